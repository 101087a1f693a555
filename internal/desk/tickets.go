// Package desk is the operator-facing service layer: the ticket workflow
// and the HTTP control surface the dashboard talks to.
package desk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/omnidesk/omnidesk/internal/bus"
	"github.com/omnidesk/omnidesk/internal/storage"
	"github.com/omnidesk/omnidesk/pkg/models"
)

// Publisher is the slice of the notification bus the desk needs.
type Publisher interface {
	Publish(event string, payload any)
}

// TicketService applies the ticket workflow. Status transitions go through
// here, never through raw store updates, so the assignee invariant holds:
// a ticket has an assignee only while it is in progress.
type TicketService struct {
	stores storage.StoreSet
	bus    Publisher
	log    *slog.Logger
}

// NewTicketService wires the workflow.
func NewTicketService(stores storage.StoreSet, publisher Publisher, logger *slog.Logger) *TicketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketService{
		stores: stores,
		bus:    publisher,
		log:    logger.With("component", "desk"),
	}
}

// Assign moves a ticket to in_progress under the given agent. The ticket
// inherits the agent's department so board filters stay coherent.
func (s *TicketService) Assign(ctx context.Context, ticketID, userID string) (*models.Ticket, error) {
	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	status := models.TicketInProgress
	patch := storage.TicketPatch{
		Status:     &status,
		AssigneeID: &user.ID,
	}
	if user.DepartmentID != "" {
		patch.DepartmentID = &user.DepartmentID
	}
	ticket, err := s.stores.Tickets.Update(ctx, ticketID, patch)
	if err != nil {
		return nil, fmt.Errorf("assign ticket: %w", err)
	}

	s.log.Info("ticket assigned", "ticket", ticketID, "user", userID)
	s.bus.Publish(bus.EventTicketUpdate, ticket)
	return ticket, nil
}

// Close finishes a ticket with a closing note and releases its assignee.
func (s *TicketService) Close(ctx context.Context, ticketID, note string) (*models.Ticket, error) {
	status := models.TicketClosed
	empty := ""
	ticket, err := s.stores.Tickets.Update(ctx, ticketID, storage.TicketPatch{
		Status:      &status,
		ClosingNote: &note,
		AssigneeID:  &empty,
	})
	if err != nil {
		return nil, fmt.Errorf("close ticket: %w", err)
	}

	s.log.Info("ticket closed", "ticket", ticketID)
	s.bus.Publish(bus.EventTicketUpdate, ticket)
	return ticket, nil
}

// Transfer re-queues a ticket into another department. The current owner is
// released: queued tickets never carry an assignee.
func (s *TicketService) Transfer(ctx context.Context, ticketID, departmentID string) (*models.Ticket, error) {
	if _, err := s.stores.Departments.Get(ctx, departmentID); err != nil {
		return nil, fmt.Errorf("load department: %w", err)
	}

	status := models.TicketQueued
	empty := ""
	ticket, err := s.stores.Tickets.Update(ctx, ticketID, storage.TicketPatch{
		Status:       &status,
		DepartmentID: &departmentID,
		AssigneeID:   &empty,
	})
	if err != nil {
		return nil, fmt.Errorf("transfer ticket: %w", err)
	}

	s.log.Info("ticket transferred", "ticket", ticketID, "department", departmentID)
	s.bus.Publish(bus.EventTicketUpdate, ticket)
	return ticket, nil
}

// Update applies freeform edits (title, priority) outside the workflow
// transitions.
func (s *TicketService) Update(ctx context.Context, ticketID string, patch storage.TicketPatch) (*models.Ticket, error) {
	// Status changes must go through Assign/Close/Transfer so the assignee
	// invariant cannot be bypassed.
	patch.Status = nil
	patch.AssigneeID = nil

	ticket, err := s.stores.Tickets.Update(ctx, ticketID, patch)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	s.bus.Publish(bus.EventTicketUpdate, ticket)
	return ticket, nil
}
