package desk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/storage"
	"github.com/omnidesk/omnidesk/pkg/models"
)

type fakeChannel struct {
	mu      sync.Mutex
	status  channel.Status
	sendErr error
	sent    []string
	resets  int
}

func (c *fakeChannel) Status() channel.Status { return c.status }

func (c *fakeChannel) Send(_ context.Context, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) Logout(context.Context) error { return nil }

func (c *fakeChannel) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	return nil
}

type fakeForgetter struct {
	mu        sync.Mutex
	forgotten []string
}

func (f *fakeForgetter) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
}

func newTestServer(t *testing.T, ch *fakeChannel) (*Server, storage.StoreSet, *fakeForgetter) {
	t.Helper()
	stores := storage.NewMemoryStoreSet()
	forget := &fakeForgetter{}
	srv := NewServer(ServerOptions{
		Stores:  stores,
		Tickets: NewTicketService(stores, &recordingPublisher{}, nil),
		Channel: ch,
		Forget:  forget,
		Bus:     &recordingPublisher{},
	})
	return srv, stores, forget
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChannelStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeChannel{status: channel.Status{State: channel.StateConnecting, Challenge: "qr-data"}})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/whatsapp/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got channel.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.State != channel.StateConnecting || got.Challenge != "qr-data" {
		t.Errorf("status = %+v", got)
	}
}

func TestManualSendUnavailableChannelIs503(t *testing.T) {
	ch := &fakeChannel{sendErr: channel.ErrChannelUnavailable}
	srv, stores, _ := newTestServer(t, ch)
	ctx := context.Background()

	contact, err := stores.Contacts.UpsertByChannelID(ctx, "551188@s.whatsapp.net", storage.ContactDefaults{Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/contacts/"+contact.ID+"/messages",
		map[string]string{"content": "oi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	msgs, _ := stores.Messages.ListByContact(ctx, contact.ID)
	if len(msgs) != 0 {
		t.Error("undelivered message was persisted")
	}
}

func TestManualSendPersistsOnSuccess(t *testing.T) {
	ch := &fakeChannel{}
	srv, stores, _ := newTestServer(t, ch)
	ctx := context.Background()

	contact, err := stores.Contacts.UpsertByChannelID(ctx, "551188@s.whatsapp.net", storage.ContactDefaults{Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/contacts/"+contact.ID+"/messages",
		map[string]string{"content": "bom dia"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}

	msgs, _ := stores.Messages.ListByContact(ctx, contact.ID)
	if len(msgs) != 1 || msgs[0].Origin != models.OriginHuman || msgs[0].Direction != models.DirectionOutbound {
		t.Errorf("messages = %+v", msgs)
	}
	if len(ch.sent) != 1 || ch.sent[0] != "bom dia" {
		t.Errorf("channel sent = %v", ch.sent)
	}
}

func TestDeleteContactForgetsMemory(t *testing.T) {
	srv, stores, forget := newTestServer(t, &fakeChannel{})
	ctx := context.Background()

	contact, err := stores.Contacts.UpsertByChannelID(ctx, "551188@s.whatsapp.net", storage.ContactDefaults{Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/api/contacts/"+contact.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(forget.forgotten) != 1 || forget.forgotten[0] != contact.ID {
		t.Errorf("forgotten = %v", forget.forgotten)
	}
	if _, err := stores.Contacts.Get(ctx, contact.ID); err == nil {
		t.Error("contact survived delete")
	}
}

func TestTicketWorkflowOverHTTP(t *testing.T) {
	srv, stores, _ := newTestServer(t, &fakeChannel{})
	handler := srv.Handler()
	ctx := context.Background()

	rec := doJSON(t, handler, http.MethodPost, "/api/departments", map[string]string{"name": "Suporte"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create department = %d", rec.Code)
	}
	var dept models.Department
	json.Unmarshal(rec.Body.Bytes(), &dept)

	rec = doJSON(t, handler, http.MethodPost, "/api/users",
		map[string]string{"name": "Bruno", "email": "bruno@example.com", "department_id": dept.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user = %d: %s", rec.Code, rec.Body.String())
	}
	var user models.User
	json.Unmarshal(rec.Body.Bytes(), &user)

	contact, _ := stores.Contacts.UpsertByChannelID(ctx, "551188@s.whatsapp.net", storage.ContactDefaults{Name: "Ana"})
	ticket := &models.Ticket{ID: "t1", ContactID: contact.ID, Title: "Erro no boleto", Status: models.TicketQueued}
	if err := stores.Tickets.Create(ctx, ticket); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/tickets/t1/assign", map[string]string{"user_id": user.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign = %d: %s", rec.Code, rec.Body.String())
	}
	var assigned models.Ticket
	json.Unmarshal(rec.Body.Bytes(), &assigned)
	if assigned.Status != models.TicketInProgress || assigned.AssigneeID != user.ID {
		t.Errorf("assigned = %+v", assigned)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/tickets/t1/close", map[string]string{"note": "resolvido"})
	if rec.Code != http.StatusOK {
		t.Fatalf("close = %d", rec.Code)
	}
	var closed models.Ticket
	json.Unmarshal(rec.Body.Bytes(), &closed)
	if closed.Status != models.TicketClosed || closed.AssigneeID != "" {
		t.Errorf("closed = %+v", closed)
	}
}

func TestUnknownTicketIs404(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeChannel{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/tickets/missing/close", map[string]string{"note": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDashboardCounts(t *testing.T) {
	srv, stores, _ := newTestServer(t, &fakeChannel{status: channel.Status{State: channel.StateConnected}})
	ctx := context.Background()

	contact, _ := stores.Contacts.UpsertByChannelID(ctx, "551188@s.whatsapp.net", storage.ContactDefaults{Name: "Ana"})
	stores.Tickets.Create(ctx, &models.Ticket{ID: "t1", ContactID: contact.ID, Status: models.TicketQueued})
	stores.Tickets.Create(ctx, &models.Ticket{ID: "t2", ContactID: contact.ID, Status: models.TicketClosed})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Contacts      int `json:"contacts"`
		TicketsQueued int `json:"tickets_queued"`
		TicketsClosed int `json:"tickets_closed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Contacts != 1 || got.TicketsQueued != 1 || got.TicketsClosed != 1 {
		t.Errorf("dashboard = %+v", got)
	}
}

func TestCreateUserValidatesDepartment(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeChannel{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/users",
		map[string]string{"name": "Bruno", "email": "b@example.com", "department_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown department", rec.Code)
	}
}
