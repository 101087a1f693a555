package desk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnidesk/omnidesk/internal/bus"
	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/storage"
	"github.com/omnidesk/omnidesk/pkg/models"
)

// Channel is the session manager surface the control plane exposes.
type Channel interface {
	Status() channel.Status
	Send(ctx context.Context, contactID, text string) error
	Logout(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Forgetter drops assistant conversation memory when a contact is deleted.
type Forgetter interface {
	Forget(conversationID string)
}

// ServerOptions wires the HTTP control surface.
type ServerOptions struct {
	Addr    string
	Stores  storage.StoreSet
	Tickets *TicketService
	Channel Channel
	Forget  Forgetter
	Bus     Publisher
	// WS serves the live notification socket (the bus hub).
	WS http.Handler
	// MediaDir is served read-only under /uploads/.
	MediaDir string
	Logger   *slog.Logger
}

// Server is the operator HTTP API plus the websocket and static mounts.
type Server struct {
	opts ServerOptions
	log  *slog.Logger

	httpServer *http.Server
}

// NewServer builds the server and its routes.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, log: logger.With("component", "http")}
}

// Handler returns the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.opts.WS != nil {
		mux.Handle("/ws", s.opts.WS)
	}
	if s.opts.MediaDir != "" {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/",
			http.FileServer(http.Dir(s.opts.MediaDir))))
	}

	mux.HandleFunc("GET /api/whatsapp/status", s.handleChannelStatus)
	mux.HandleFunc("POST /api/whatsapp/logout", s.handleChannelLogout)
	mux.HandleFunc("POST /api/whatsapp/reset", s.handleChannelReset)

	mux.HandleFunc("GET /api/contacts", s.handleContactList)
	mux.HandleFunc("PUT /api/contacts/{id}/name", s.handleContactRename)
	mux.HandleFunc("PUT /api/contacts/{id}/automation", s.handleContactAutomation)
	mux.HandleFunc("DELETE /api/contacts/{id}", s.handleContactDelete)
	mux.HandleFunc("GET /api/contacts/{id}/messages", s.handleMessageList)
	mux.HandleFunc("POST /api/contacts/{id}/messages", s.handleManualSend)

	mux.HandleFunc("GET /api/tickets", s.handleTicketList)
	mux.HandleFunc("PUT /api/tickets/{id}", s.handleTicketUpdate)
	mux.HandleFunc("POST /api/tickets/{id}/assign", s.handleTicketAssign)
	mux.HandleFunc("POST /api/tickets/{id}/close", s.handleTicketClose)
	mux.HandleFunc("POST /api/tickets/{id}/transfer", s.handleTicketTransfer)

	mux.HandleFunc("GET /api/departments", s.handleDepartmentList)
	mux.HandleFunc("POST /api/departments", s.handleDepartmentCreate)
	mux.HandleFunc("DELETE /api/departments/{id}", s.handleDepartmentDelete)

	mux.HandleFunc("GET /api/users", s.handleUserList)
	mux.HandleFunc("POST /api/users", s.handleUserCreate)
	mux.HandleFunc("DELETE /api/users/{id}", s.handleUserDelete)

	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)

	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()
	s.log.Info("http server listening", "addr", s.opts.Addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- channel ---

func (s *Server) handleChannelStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Channel.Status())
}

func (s *Server) handleChannelLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Channel.Logout(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleChannelReset(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Channel.Reset(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resetting"})
}

// --- contacts ---

func (s *Server) handleContactList(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.opts.Stores.Contacts.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleContactRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.opts.Stores.Contacts.Rename(r.Context(), r.PathValue("id"), body.Name); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (s *Server) handleContactAutomation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.opts.Stores.Contacts.SetAutomation(r.Context(), r.PathValue("id"), body.Enabled); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"automation_enabled": body.Enabled})
}

func (s *Server) handleContactDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.opts.Stores.Contacts.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	if s.opts.Forget != nil {
		s.opts.Forget.Forget(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.opts.Stores.Messages.ListByContact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleManualSend delivers an operator-authored message. Delivery comes
// first: a message the contact never received is never persisted.
func (s *Server) handleManualSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	contact, err := s.opts.Stores.Contacts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.opts.Channel.Send(r.Context(), contact.ChannelID, body.Content); err != nil {
		s.fail(w, err)
		return
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Content:   body.Content,
		Direction: models.DirectionOutbound,
		Origin:    models.OriginHuman,
		MediaKind: models.MediaText,
		CreatedAt: time.Now(),
	}
	if err := s.opts.Stores.Messages.Create(r.Context(), msg); err != nil {
		s.fail(w, err)
		return
	}
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(bus.EventMessageNew, msg)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// --- tickets ---

func (s *Server) handleTicketList(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.opts.Stores.Tickets.List(r.Context(), 50)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleTicketUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title    *string `json:"title"`
		Priority *string `json:"priority"`
	}
	if !decode(w, r, &body) {
		return
	}
	ticket, err := s.opts.Tickets.Update(r.Context(), r.PathValue("id"), storage.TicketPatch{
		Title:    body.Title,
		Priority: body.Priority,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleTicketAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	ticket, err := s.opts.Tickets.Assign(r.Context(), r.PathValue("id"), body.UserID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleTicketClose(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if !decode(w, r, &body) {
		return
	}
	ticket, err := s.opts.Tickets.Close(r.Context(), r.PathValue("id"), body.Note)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleTicketTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DepartmentID string `json:"department_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	ticket, err := s.opts.Tickets.Transfer(r.Context(), r.PathValue("id"), body.DepartmentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// --- departments & users ---

func (s *Server) handleDepartmentList(w http.ResponseWriter, r *http.Request) {
	depts, err := s.opts.Stores.Departments.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depts)
}

func (s *Server) handleDepartmentCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	dept := &models.Department{ID: uuid.NewString(), Name: body.Name, CreatedAt: time.Now()}
	if err := s.opts.Stores.Departments.Create(r.Context(), dept); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dept)
}

func (s *Server) handleDepartmentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Stores.Departments.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.opts.Stores.Users.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		DepartmentID string `json:"department_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" || body.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if body.DepartmentID != "" {
		if _, err := s.opts.Stores.Departments.Get(r.Context(), body.DepartmentID); err != nil {
			s.fail(w, err)
			return
		}
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         body.Name,
		Email:        body.Email,
		DepartmentID: body.DepartmentID,
		CreatedAt:    time.Now(),
	}
	if err := s.opts.Stores.Users.Create(r.Context(), user); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Stores.Users.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- dashboard ---

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contacts, err := s.opts.Stores.Contacts.List(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	// Negative limit: the dashboard counts every ticket, closed included.
	tickets, err := s.opts.Stores.Tickets.List(ctx, -1)
	if err != nil {
		s.fail(w, err)
		return
	}

	counts := map[models.TicketStatus]int{}
	for _, t := range tickets {
		counts[t.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contacts":            len(contacts),
		"tickets_queued":      counts[models.TicketQueued],
		"tickets_in_progress": counts[models.TicketInProgress],
		"tickets_closed":      counts[models.TicketClosed],
		"channel":             s.opts.Channel.Status(),
	})
}

// --- helpers ---

// fail maps domain errors onto status codes: unknown entities are 404, an
// unavailable channel is 503 (retryable), anything else is 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, channel.ErrChannelUnavailable):
		writeError(w, http.StatusServiceUnavailable, "channel unavailable")
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
