// Package storage is the persistence gateway for desk entities. The triage
// pipeline and desk service only speak these interfaces; production uses the
// SQLite implementation, tests use the in-memory one.
package storage

import (
	"context"
	"errors"

	"github.com/omnidesk/omnidesk/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ContactDefaults seed a contact created by upsert.
type ContactDefaults struct {
	Name              string
	AutomationEnabled bool
}

// ContactStore persists contacts keyed by their channel identifier.
type ContactStore interface {
	// UpsertByChannelID returns the contact for channelID, creating it with
	// the given defaults if absent. The operation is atomic at the store
	// level (insert-on-conflict, never check-then-act) so concurrent upserts
	// for one identifier yield exactly one contact.
	UpsertByChannelID(ctx context.Context, channelID string, defaults ContactDefaults) (*models.Contact, error)
	Get(ctx context.Context, id string) (*models.Contact, error)
	List(ctx context.Context) ([]*models.Contact, error)
	Rename(ctx context.Context, id, name string) error
	SetAutomation(ctx context.Context, id string, enabled bool) error
	TouchActivity(ctx context.Context, id string) error
	// Delete removes the contact and cascades to its messages and tickets.
	Delete(ctx context.Context, id string) error
}

// MessageStore persists conversation messages.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	ListByContact(ctx context.Context, contactID string) ([]*models.Message, error)
	UpdateContent(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
}

// TicketPatch carries optional ticket mutations; nil fields are untouched.
type TicketPatch struct {
	Title        *string
	Priority     *string
	Status       *models.TicketStatus
	ClosingNote  *string
	DepartmentID *string
	AssigneeID   *string
}

// TicketStore persists tickets.
type TicketStore interface {
	Create(ctx context.Context, ticket *models.Ticket) error
	Get(ctx context.Context, id string) (*models.Ticket, error)
	Update(ctx context.Context, id string, patch TicketPatch) (*models.Ticket, error)
	// List returns open tickets newest-first followed by the most recently
	// closed ones, capped by closedLimit (the Kanban board query).
	List(ctx context.Context, closedLimit int) ([]*models.Ticket, error)
	Delete(ctx context.Context, id string) error
}

// DepartmentStore persists departments.
type DepartmentStore interface {
	Create(ctx context.Context, dept *models.Department) error
	Get(ctx context.Context, id string) (*models.Department, error)
	List(ctx context.Context) ([]*models.Department, error)
	Delete(ctx context.Context, id string) error
}

// UserStore persists desk agents.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Delete(ctx context.Context, id string) error
}

// StoreSet groups the storage dependencies handed to the desk components.
type StoreSet struct {
	Contacts    ContactStore
	Messages    MessageStore
	Tickets     TicketStore
	Departments DepartmentStore
	Users       UserStore

	closer func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
