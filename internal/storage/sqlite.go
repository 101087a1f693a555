package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/pkg/models"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	automation_enabled INTEGER NOT NULL DEFAULT 1,
	last_activity TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	direction TEXT NOT NULL,
	origin TEXT NOT NULL,
	media_kind TEXT NOT NULL,
	media_ref TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id, created_at);
CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '{}',
	closing_note TEXT NOT NULL DEFAULT '',
	department_id TEXT NOT NULL DEFAULT '',
	assignee_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status, updated_at);
CREATE TABLE IF NOT EXISTS departments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	department_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

// OpenSQLite opens (creating if needed) the application database and returns
// a StoreSet backed by it.
func OpenSQLite(path string) (StoreSet, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return StoreSet{}, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return StoreSet{}, fmt.Errorf("create schema: %w", err)
	}

	return StoreSet{
		Contacts:    &sqliteContactStore{db: db},
		Messages:    &sqliteMessageStore{db: db},
		Tickets:     &sqliteTicketStore{db: db},
		Departments: &sqliteDepartmentStore{db: db},
		Users:       &sqliteUserStore{db: db},
		closer:      db.Close,
	}, nil
}

type sqliteContactStore struct {
	db *sql.DB
}

func (s *sqliteContactStore) UpsertByChannelID(ctx context.Context, channelID string, defaults ContactDefaults) (*models.Contact, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	now := time.Now().UTC()
	// The unique constraint makes the insert race-free; a losing writer
	// falls through to the select below.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, channel_id, name, automation_enabled, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO NOTHING`,
		uuid.NewString(), channelID, defaults.Name, boolToInt(defaults.AutomationEnabled), now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, name, automation_enabled, last_activity, created_at
		FROM contacts WHERE channel_id = ?`, channelID)
	return scanContact(row)
}

func (s *sqliteContactStore) Get(ctx context.Context, id string) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, name, automation_enabled, last_activity, created_at
		FROM contacts WHERE id = ?`, id)
	return scanContact(row)
}

func (s *sqliteContactStore) List(ctx context.Context) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, name, automation_enabled, last_activity, created_at
		FROM contacts ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

func (s *sqliteContactStore) Rename(ctx context.Context, id, name string) error {
	return s.exec(ctx, `UPDATE contacts SET name = ? WHERE id = ?`, name, id)
}

func (s *sqliteContactStore) SetAutomation(ctx context.Context, id string, enabled bool) error {
	return s.exec(ctx, `UPDATE contacts SET automation_enabled = ? WHERE id = ?`, boolToInt(enabled), id)
}

func (s *sqliteContactStore) TouchActivity(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE contacts SET last_activity = ? WHERE id = ?`, time.Now().UTC(), id)
}

func (s *sqliteContactStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM contacts WHERE id = ?`, id)
}

func (s *sqliteContactStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var c models.Contact
	var automation int
	err := row.Scan(&c.ID, &c.ChannelID, &c.Name, &automation, &c.LastActivity, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	c.AutomationEnabled = automation != 0
	return &c, nil
}

type sqliteMessageStore struct {
	db *sql.DB
}

func (s *sqliteMessageStore) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, contact_id, content, direction, origin, media_kind, media_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ContactID, msg.Content, msg.Direction, msg.Origin, msg.MediaKind, msg.MediaRef, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *sqliteMessageStore) ListByContact(ctx context.Context, contactID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, content, direction, origin, media_kind, media_ref, created_at
		FROM messages WHERE contact_id = ? ORDER BY created_at ASC`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ContactID, &m.Content, &m.Direction, &m.Origin, &m.MediaKind, &m.MediaRef, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (s *sqliteMessageStore) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *sqliteMessageStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type sqliteTicketStore struct {
	db *sql.DB
}

func (s *sqliteTicketStore) Create(ctx context.Context, ticket *models.Ticket) error {
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
	summary, err := json.Marshal(ticket.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, contact_id, title, priority, status, summary, closing_note, department_id, assignee_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID, ticket.ContactID, ticket.Title, ticket.Priority, ticket.Status,
		string(summary), ticket.ClosingNote, ticket.DepartmentID, ticket.AssigneeID,
		ticket.CreatedAt, ticket.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *sqliteTicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contact_id, title, priority, status, summary, closing_note, department_id, assignee_id, created_at, updated_at
		FROM tickets WHERE id = ?`, id)
	return scanTicket(row)
}

func (s *sqliteTicketStore) Update(ctx context.Context, id string, patch TicketPatch) (*models.Ticket, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.ClosingNote != nil {
		sets = append(sets, "closing_note = ?")
		args = append(args, *patch.ClosingNote)
	}
	if patch.DepartmentID != nil {
		sets = append(sets, "department_id = ?")
		args = append(args, *patch.DepartmentID)
	}
	if patch.AssigneeID != nil {
		sets = append(sets, "assignee_id = ?")
		args = append(args, *patch.AssigneeID)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tickets SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *sqliteTicketStore) List(ctx context.Context, closedLimit int) ([]*models.Ticket, error) {
	open, err := s.query(ctx, `
		SELECT id, contact_id, title, priority, status, summary, closing_note, department_id, assignee_id, created_at, updated_at
		FROM tickets WHERE status != ? ORDER BY created_at DESC`, models.TicketClosed)
	if err != nil {
		return nil, err
	}
	closed, err := s.query(ctx, `
		SELECT id, contact_id, title, priority, status, summary, closing_note, department_id, assignee_id, created_at, updated_at
		FROM tickets WHERE status = ? ORDER BY updated_at DESC LIMIT ?`, models.TicketClosed, closedLimit)
	if err != nil {
		return nil, err
	}
	return append(open, closed...), nil
}

func (s *sqliteTicketStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *sqliteTicketStore) query(ctx context.Context, query string, args ...any) ([]*models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	var summary string
	err := row.Scan(&t.ID, &t.ContactID, &t.Title, &t.Priority, &t.Status, &summary,
		&t.ClosingNote, &t.DepartmentID, &t.AssigneeID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	if summary != "" {
		if err := json.Unmarshal([]byte(summary), &t.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	return &t, nil
}

type sqliteDepartmentStore struct {
	db *sql.DB
}

func (s *sqliteDepartmentStore) Create(ctx context.Context, dept *models.Department) error {
	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	if dept.CreatedAt.IsZero() {
		dept.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (id, name, created_at) VALUES (?, ?, ?)`,
		dept.ID, dept.Name, dept.CreatedAt)
	return err
}

func (s *sqliteDepartmentStore) Get(ctx context.Context, id string) (*models.Department, error) {
	var d models.Department
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM departments WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *sqliteDepartmentStore) List(ctx context.Context) ([]*models.Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var depts []*models.Department
	for rows.Next() {
		var d models.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		depts = append(depts, &d)
	}
	return depts, rows.Err()
}

func (s *sqliteDepartmentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type sqliteUserStore struct {
	db *sql.DB
}

func (s *sqliteUserStore) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, department_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.DepartmentID, user.CreatedAt)
	return err
}

func (s *sqliteUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, department_id, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.DepartmentID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *sqliteUserStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, department_id, created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.DepartmentID, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *sqliteUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
