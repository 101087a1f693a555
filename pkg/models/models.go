// Package models defines the entities shared across the OmniDesk backend:
// contacts, messages, tickets, departments and desk users.
package models

import (
	"time"
)

// Direction indicates whether a message came from the contact or from the desk.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Origin indicates who authored a desk-side message.
type Origin string

const (
	OriginHuman     Origin = "human"
	OriginAssistant Origin = "assistant"
)

// MediaKind classifies message content.
type MediaKind string

const (
	MediaText     MediaKind = "text"
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// TicketStatus is the Kanban column a ticket sits in.
type TicketStatus string

const (
	TicketQueued     TicketStatus = "queued"
	TicketInProgress TicketStatus = "in_progress"
	TicketClosed     TicketStatus = "closed"
)

// Contact is a remote chat participant, keyed by its stable channel
// identifier (a WhatsApp JID). Contacts are created lazily on first inbound
// message and never duplicated; the channel ID carries a unique constraint.
type Contact struct {
	ID                string    `json:"id"`
	ChannelID         string    `json:"channel_id"`
	Name              string    `json:"name"`
	AutomationEnabled bool      `json:"automation_enabled"`
	LastActivity      time.Time `json:"last_activity"`
	CreatedAt         time.Time `json:"created_at"`
}

// Message is one conversational turn with a contact. Within a contact,
// messages are totally ordered by CreatedAt; the triage pipeline preserves
// arrival order even when media downloads finish out of order.
type Message struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Content   string    `json:"content"`
	Direction Direction `json:"direction"`
	Origin    Origin    `json:"origin"`
	MediaKind MediaKind `json:"media_kind"`
	MediaRef  string    `json:"media_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ticket is a trackable case derived from a triaged conversation.
// Invariant: AssigneeID is non-empty only while Status is in_progress;
// closing or transferring a ticket clears the assignee.
type Ticket struct {
	ID           string         `json:"id"`
	ContactID    string         `json:"contact_id"`
	Title        string         `json:"title"`
	Priority     string         `json:"priority"`
	Status       TicketStatus   `json:"status"`
	Summary      map[string]any `json:"summary,omitempty"`
	ClosingNote  string         `json:"closing_note,omitempty"`
	DepartmentID string         `json:"department_id,omitempty"`
	AssigneeID   string         `json:"assignee_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Department groups desk users for ticket routing.
type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a human desk agent.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	DepartmentID string    `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
