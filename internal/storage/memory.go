package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/pkg/models"
)

// NewMemoryStoreSet returns a fully in-memory StoreSet. Used by tests and
// useful for running the desk without a database file.
func NewMemoryStoreSet() StoreSet {
	contacts := &MemoryContactStore{contacts: make(map[string]*models.Contact)}
	messages := &MemoryMessageStore{messages: make(map[string]*models.Message)}
	tickets := &MemoryTicketStore{tickets: make(map[string]*models.Ticket)}
	contacts.onDelete = func(contactID string) {
		messages.deleteByContact(contactID)
		tickets.deleteByContact(contactID)
	}
	return StoreSet{
		Contacts:    contacts,
		Messages:    messages,
		Tickets:     tickets,
		Departments: &MemoryDepartmentStore{depts: make(map[string]*models.Department)},
		Users:       &MemoryUserStore{users: make(map[string]*models.User)},
	}
}

// MemoryContactStore is an in-memory ContactStore.
type MemoryContactStore struct {
	mu        sync.RWMutex
	contacts  map[string]*models.Contact
	byChannel map[string]string
	onDelete  func(contactID string)
}

func (s *MemoryContactStore) UpsertByChannelID(ctx context.Context, channelID string, defaults ContactDefaults) (*models.Contact, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byChannel == nil {
		s.byChannel = make(map[string]string)
	}
	if id, ok := s.byChannel[channelID]; ok {
		return cloneContact(s.contacts[id]), nil
	}
	now := time.Now().UTC()
	contact := &models.Contact{
		ID:                uuid.NewString(),
		ChannelID:         channelID,
		Name:              defaults.Name,
		AutomationEnabled: defaults.AutomationEnabled,
		LastActivity:      now,
		CreatedAt:         now,
	}
	s.contacts[contact.ID] = contact
	s.byChannel[channelID] = contact.ID
	return cloneContact(contact), nil
}

func (s *MemoryContactStore) Get(ctx context.Context, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contact, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContact(contact), nil
}

func (s *MemoryContactStore) List(ctx context.Context) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contacts := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		contacts = append(contacts, cloneContact(c))
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].LastActivity.After(contacts[j].LastActivity)
	})
	return contacts, nil
}

func (s *MemoryContactStore) Rename(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[id]
	if !ok {
		return ErrNotFound
	}
	contact.Name = name
	return nil
}

func (s *MemoryContactStore) SetAutomation(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[id]
	if !ok {
		return ErrNotFound
	}
	contact.AutomationEnabled = enabled
	return nil
}

func (s *MemoryContactStore) TouchActivity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[id]
	if !ok {
		return ErrNotFound
	}
	contact.LastActivity = time.Now().UTC()
	return nil
}

func (s *MemoryContactStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	contact, ok := s.contacts[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.contacts, id)
	delete(s.byChannel, contact.ChannelID)
	onDelete := s.onDelete
	s.mu.Unlock()

	if onDelete != nil {
		onDelete(id)
	}
	return nil
}

func cloneContact(c *models.Contact) *models.Contact {
	copied := *c
	return &copied
}

// MemoryMessageStore is an in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	order    []string
}

func (s *MemoryMessageStore) Create(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ContactID == "" {
		return fmt.Errorf("message contact id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	copied := *msg
	s.messages[msg.ID] = &copied
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *MemoryMessageStore) ListByContact(ctx context.Context, contactID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Message
	for _, id := range s.order {
		if msg, ok := s.messages[id]; ok && msg.ContactID == contactID {
			copied := *msg
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *MemoryMessageStore) UpdateContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Content = content
	return nil
}

func (s *MemoryMessageStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryMessageStore) deleteByContact(contactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, msg := range s.messages {
		if msg.ContactID == contactID {
			delete(s.messages, id)
		}
	}
}

// MemoryTicketStore is an in-memory TicketStore.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
}

func (s *MemoryTicketStore) Create(ctx context.Context, ticket *models.Ticket) error {
	if ticket == nil || ticket.ContactID == "" {
		return fmt.Errorf("ticket contact id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	if ticket.Status == "" {
		ticket.Status = models.TicketQueued
	}
	copied := *ticket
	s.tickets[ticket.ID] = &copied
	return nil
}

func (s *MemoryTicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *ticket
	return &copied, nil
}

func (s *MemoryTicketStore) Update(ctx context.Context, id string, patch TicketPatch) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Title != nil {
		ticket.Title = *patch.Title
	}
	if patch.Priority != nil {
		ticket.Priority = *patch.Priority
	}
	if patch.Status != nil {
		ticket.Status = *patch.Status
	}
	if patch.ClosingNote != nil {
		ticket.ClosingNote = *patch.ClosingNote
	}
	if patch.DepartmentID != nil {
		ticket.DepartmentID = *patch.DepartmentID
	}
	if patch.AssigneeID != nil {
		ticket.AssigneeID = *patch.AssigneeID
	}
	ticket.UpdatedAt = time.Now().UTC()
	copied := *ticket
	return &copied, nil
}

func (s *MemoryTicketStore) List(ctx context.Context, closedLimit int) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open, closed []*models.Ticket
	for _, t := range s.tickets {
		copied := *t
		if t.Status == models.TicketClosed {
			closed = append(closed, &copied)
		} else {
			open = append(open, &copied)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.After(open[j].CreatedAt) })
	sort.Slice(closed, func(i, j int) bool { return closed[i].UpdatedAt.After(closed[j].UpdatedAt) })
	if closedLimit >= 0 && len(closed) > closedLimit {
		closed = closed[:closedLimit]
	}
	return append(open, closed...), nil
}

func (s *MemoryTicketStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(s.tickets, id)
	return nil
}

func (s *MemoryTicketStore) deleteByContact(contactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tickets {
		if t.ContactID == contactID {
			delete(s.tickets, id)
		}
	}
}

// MemoryDepartmentStore is an in-memory DepartmentStore.
type MemoryDepartmentStore struct {
	mu    sync.RWMutex
	depts map[string]*models.Department
}

func (s *MemoryDepartmentStore) Create(ctx context.Context, dept *models.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	if dept.CreatedAt.IsZero() {
		dept.CreatedAt = time.Now().UTC()
	}
	copied := *dept
	s.depts[dept.ID] = &copied
	return nil
}

func (s *MemoryDepartmentStore) Get(ctx context.Context, id string) (*models.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dept, ok := s.depts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *dept
	return &copied, nil
}

func (s *MemoryDepartmentStore) List(ctx context.Context) ([]*models.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	depts := make([]*models.Department, 0, len(s.depts))
	for _, d := range s.depts {
		copied := *d
		depts = append(depts, &copied)
	}
	sort.Slice(depts, func(i, j int) bool { return depts[i].Name < depts[j].Name })
	return depts, nil
}

func (s *MemoryDepartmentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.depts[id]; !ok {
		return ErrNotFound
	}
	delete(s.depts, id)
	return nil
}

// MemoryUserStore is an in-memory UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryUserStore) List(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		copied := *u
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *MemoryUserStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}
