package desk

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/storage"
	"github.com/omnidesk/omnidesk/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(event string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func seedWorkflow(t *testing.T) (*TicketService, storage.StoreSet, *models.Ticket, *models.User, *models.Department) {
	t.Helper()
	stores := storage.NewMemoryStoreSet()
	ctx := context.Background()

	dept := &models.Department{ID: uuid.NewString(), Name: "Financeiro"}
	if err := stores.Departments.Create(ctx, dept); err != nil {
		t.Fatal(err)
	}
	user := &models.User{ID: uuid.NewString(), Name: "Bruno", Email: "bruno@example.com", DepartmentID: dept.ID}
	if err := stores.Users.Create(ctx, user); err != nil {
		t.Fatal(err)
	}
	contact, err := stores.Contacts.UpsertByChannelID(ctx, "551199@s.whatsapp.net", storage.ContactDefaults{Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}
	ticket := &models.Ticket{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Title:     "Cobrança duplicada",
		Priority:  "high",
		Status:    models.TicketQueued,
	}
	if err := stores.Tickets.Create(ctx, ticket); err != nil {
		t.Fatal(err)
	}
	return NewTicketService(stores, &recordingPublisher{}, nil), stores, ticket, user, dept
}

func TestAssignSetsOwnerAndDepartment(t *testing.T) {
	svc, _, ticket, user, dept := seedWorkflow(t)

	got, err := svc.Assign(context.Background(), ticket.ID, user.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.Status != models.TicketInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
	if got.AssigneeID != user.ID {
		t.Errorf("assignee = %q, want %q", got.AssigneeID, user.ID)
	}
	if got.DepartmentID != dept.ID {
		t.Errorf("department = %q, want inherited %q", got.DepartmentID, dept.ID)
	}
}

func TestAssignUnknownUserFails(t *testing.T) {
	svc, _, ticket, _, _ := seedWorkflow(t)

	if _, err := svc.Assign(context.Background(), ticket.ID, "nobody"); err == nil {
		t.Fatal("assigning to unknown user succeeded")
	}
}

func TestCloseReleasesAssignee(t *testing.T) {
	svc, _, ticket, user, _ := seedWorkflow(t)
	ctx := context.Background()

	if _, err := svc.Assign(ctx, ticket.ID, user.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Close(ctx, ticket.ID, "resolvido com estorno")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got.Status != models.TicketClosed {
		t.Errorf("status = %q, want closed", got.Status)
	}
	if got.AssigneeID != "" {
		t.Error("closed ticket kept an assignee")
	}
	if got.ClosingNote != "resolvido com estorno" {
		t.Errorf("closing note = %q", got.ClosingNote)
	}
}

func TestTransferRequeuesAndReleasesAssignee(t *testing.T) {
	svc, stores, ticket, user, _ := seedWorkflow(t)
	ctx := context.Background()

	other := &models.Department{ID: uuid.NewString(), Name: "Suporte"}
	if err := stores.Departments.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Assign(ctx, ticket.ID, user.ID); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Transfer(ctx, ticket.ID, other.ID)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got.Status != models.TicketQueued {
		t.Errorf("status = %q, want queued", got.Status)
	}
	if got.AssigneeID != "" {
		t.Error("transferred ticket kept an assignee")
	}
	if got.DepartmentID != other.ID {
		t.Errorf("department = %q, want %q", got.DepartmentID, other.ID)
	}
}

func TestTransferUnknownDepartmentFails(t *testing.T) {
	svc, _, ticket, _, _ := seedWorkflow(t)

	if _, err := svc.Transfer(context.Background(), ticket.ID, "missing"); err == nil {
		t.Fatal("transfer to unknown department succeeded")
	}
}

func TestUpdateCannotChangeStatusOrAssignee(t *testing.T) {
	svc, _, ticket, user, _ := seedWorkflow(t)
	ctx := context.Background()

	title := "Título novo"
	sneaky := models.TicketClosed
	got, err := svc.Update(ctx, ticket.ID, storage.TicketPatch{
		Title:      &title,
		Status:     &sneaky,
		AssigneeID: &user.ID,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "Título novo" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Status != models.TicketQueued {
		t.Errorf("status changed through Update: %q", got.Status)
	}
	if got.AssigneeID != "" {
		t.Error("assignee changed through Update")
	}
}
