package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/omnidesk/omnidesk/pkg/models"
)

func TestUpsertByChannelIDNeverDuplicates(t *testing.T) {
	stores := NewMemoryStoreSet()
	ctx := context.Background()

	first, err := stores.Contacts.UpsertByChannelID(ctx, "5511999@s.whatsapp.net", ContactDefaults{
		Name:              "Cliente Novo",
		AutomationEnabled: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := stores.Contacts.UpsertByChannelID(ctx, "5511999@s.whatsapp.net", ContactDefaults{
		Name: "Other Name",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert created duplicate contact: %s vs %s", first.ID, second.ID)
	}
	if second.Name != "Cliente Novo" {
		t.Errorf("upsert overwrote existing contact name: %q", second.Name)
	}
	if !second.AutomationEnabled {
		t.Error("existing automation flag was lost on upsert")
	}
}

func TestUpsertByChannelIDConcurrent(t *testing.T) {
	stores := NewMemoryStoreSet()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, err := stores.Contacts.UpsertByChannelID(ctx, "racer@s.whatsapp.net", ContactDefaults{AutomationEnabled: true})
			if err != nil {
				t.Errorf("upsert: %v", err)
				return
			}
			ids[n] = c.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent upserts produced different contacts: %v", ids)
		}
	}
}

func TestContactDeleteCascades(t *testing.T) {
	stores := NewMemoryStoreSet()
	ctx := context.Background()

	contact, err := stores.Contacts.UpsertByChannelID(ctx, "x@s.whatsapp.net", ContactDefaults{AutomationEnabled: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := stores.Messages.Create(ctx, &models.Message{
		ContactID: contact.ID,
		Content:   "hello",
		Direction: models.DirectionInbound,
		Origin:    models.OriginHuman,
		MediaKind: models.MediaText,
	}); err != nil {
		t.Fatalf("create message: %v", err)
	}
	if err := stores.Tickets.Create(ctx, &models.Ticket{ContactID: contact.ID, Title: "case"}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	if err := stores.Contacts.Delete(ctx, contact.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	msgs, err := stores.Messages.ListByContact(ctx, contact.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived contact deletion: %d", len(msgs))
	}
	tickets, err := stores.Tickets.List(ctx, 10)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(tickets) != 0 {
		t.Errorf("tickets survived contact deletion: %d", len(tickets))
	}
}

func TestMessagesOrderedByCreation(t *testing.T) {
	stores := NewMemoryStoreSet()
	ctx := context.Background()

	contact, _ := stores.Contacts.UpsertByChannelID(ctx, "y@s.whatsapp.net", ContactDefaults{})
	for _, content := range []string{"one", "two", "three"} {
		if err := stores.Messages.Create(ctx, &models.Message{
			ContactID: contact.ID,
			Content:   content,
			Direction: models.DirectionInbound,
			Origin:    models.OriginHuman,
			MediaKind: models.MediaText,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	msgs, err := stores.Messages.ListByContact(ctx, contact.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d = %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestTicketListSplitsClosed(t *testing.T) {
	stores := NewMemoryStoreSet()
	ctx := context.Background()

	contact, _ := stores.Contacts.UpsertByChannelID(ctx, "z@s.whatsapp.net", ContactDefaults{})
	closed := models.TicketClosed
	for i := 0; i < 3; i++ {
		ticket := &models.Ticket{ContactID: contact.ID, Title: "open"}
		if err := stores.Tickets.Create(ctx, ticket); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	done := &models.Ticket{ContactID: contact.ID, Title: "done"}
	if err := stores.Tickets.Create(ctx, done); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := stores.Tickets.Update(ctx, done.ID, TicketPatch{Status: &closed}); err != nil {
		t.Fatalf("close: %v", err)
	}

	tickets, err := stores.Tickets.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 4 {
		t.Fatalf("got %d tickets, want 4", len(tickets))
	}
	// Closed tickets trail the open ones.
	if tickets[len(tickets)-1].Status != models.TicketClosed {
		t.Error("closed ticket not at the tail of the board listing")
	}
}
