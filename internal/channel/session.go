// Package channel owns the WhatsApp connection lifecycle: pairing, reconnects,
// full session resets, and the narrow send surface the rest of the desk uses.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the whatsmeow session store

	"github.com/omnidesk/omnidesk/internal/bus"
	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/observability"
)

// ErrChannelUnavailable is returned by Send when no connection is live. It is
// a retryable condition, not a crash: the desk surfaces it as "disconnected".
var ErrChannelUnavailable = errors.New("channel unavailable")

// Manager owns the single process-wide channel session. No other component
// constructs or rebinds the underlying client; dependents only see Send,
// SendTyping and Status.
//
// Every handshake attempt carries an epoch number. Reset bumps the epoch, so
// callbacks from a superseded handshake are recognized as stale and dropped —
// at most one handshake is ever authoritative.
type Manager struct {
	cfg     config.ChannelConfig
	log     *slog.Logger
	bus     Publisher
	metrics *observability.Metrics
	router  *Router
	backoff BackoffPolicy

	mu        sync.Mutex
	epoch     uint64
	state     State
	challenge string
	client    *whatsmeow.Client
	container *sqlstore.Container

	// ctx is the process lifetime, captured by Start.
	ctx context.Context
}

// NewManager creates a session manager. Call Start to connect.
func NewManager(cfg config.ChannelConfig, router *Router, publisher Publisher, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := DefaultBackoff()
	if cfg.ReconnectInitialDelay > 0 {
		backoff.Initial = cfg.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		backoff.Max = cfg.ReconnectMaxDelay
	}
	return &Manager{
		cfg:     cfg,
		log:     logger.With("component", "channel"),
		bus:     publisher,
		metrics: metrics,
		router:  router,
		backoff: backoff,
		state:   StateDisconnected,
	}
}

// Start connects to the network, resuming the stored session if one exists
// or issuing a pairing challenge otherwise. Reconnection after transient
// failures is automatic and unbounded; callers never retry Start except
// through Reset.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	if m.cfg.DeviceName != "" {
		store.DeviceProps.Os = proto.String(m.cfg.DeviceName)
	}
	go m.connect(epoch)
}

// Status returns the connection state and any pending pairing challenge.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Challenge: m.challenge}
}

// Send delivers a text payload to a contact. Fails fast with
// ErrChannelUnavailable when not connected; a send that outlives the
// configured timeout is classified the same way (retryable, never a hang).
func (m *Manager) Send(ctx context.Context, contactID, text string) error {
	m.mu.Lock()
	client := m.client
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || client == nil {
		if m.metrics != nil {
			m.metrics.SendFailures.Inc()
		}
		return ErrChannelUnavailable
	}

	jid, err := types.ParseJID(contactID)
	if err != nil {
		return fmt.Errorf("invalid contact id %q: %w", contactID, err)
	}

	timeout := m.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.SendFailures.Inc()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("send timed out: %w", ErrChannelUnavailable)
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendTyping shows the composing indicator to a contact. Best effort.
func (m *Manager) SendTyping(ctx context.Context, contactID string) error {
	m.mu.Lock()
	client := m.client
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || client == nil {
		return ErrChannelUnavailable
	}
	jid, err := types.ParseJID(contactID)
	if err != nil {
		return fmt.Errorf("invalid contact id %q: %w", contactID, err)
	}
	return client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// Logout notifies the remote network (best effort) and performs a full
// session reset, so the next connection requests a fresh challenge.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			m.log.Warn("remote logout failed, resetting anyway", "error", err)
		}
	}
	return m.Reset(ctx)
}

// Reset forcibly tears down any live connection (even mid-handshake),
// waits a grace period for the session store to release its file locks,
// deletes the stored session wholesale, and reconnects from scratch.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	client := m.client
	container := m.container
	m.client = nil
	m.container = nil
	m.challenge = ""
	m.state = StateDisconnected
	m.mu.Unlock()

	m.log.Info("resetting channel session", "epoch", epoch)
	m.publishStatus(StateDisconnected)

	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			m.log.Warn("session store close failed", "error", err)
		}
	}

	// Grace window: a superseded handshake may still hold the session
	// database open; deleting underneath it corrupts nothing but fails.
	grace := m.cfg.ResetGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	select {
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := os.RemoveAll(m.cfg.SessionDir); err != nil {
		return fmt.Errorf("remove session store: %w", err)
	}

	go m.connect(epoch)
	return nil
}

// connect runs one handshake attempt chain for the given epoch. It returns
// silently whenever the epoch has been superseded.
func (m *Manager) connect(epoch uint64) {
	ctx := m.processCtx()
	if ctx.Err() != nil {
		return
	}

	if err := os.MkdirAll(m.cfg.SessionDir, 0o755); err != nil {
		m.log.Error("session dir unavailable", "error", err)
		return
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(m.cfg.SessionDir, "session.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		m.log.Error("open session store", "error", err)
		return
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		m.log.Error("load device", "error", err)
		container.Close()
		return
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = false
	client.AddEventHandler(func(evt any) { m.handleEvent(epoch, evt) })

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		container.Close()
		return
	}
	m.client = client
	m.container = container
	m.state = StateConnecting
	m.mu.Unlock()
	m.publishStatus(StateConnecting)

	if client.Store.ID == nil {
		m.log.Info("no stored session, requesting pairing challenge")
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			m.log.Error("request pairing channel", "error", err)
			return
		}
		if err := client.Connect(); err != nil {
			m.log.Error("connect for pairing", "error", err)
			m.reconnectLoop(epoch)
			return
		}
		go m.consumeQR(ctx, epoch, qrChan)
		return
	}

	m.log.Info("stored session found, resuming")
	if err := client.Connect(); err != nil {
		m.log.Error("connect", "error", err)
		m.reconnectLoop(epoch)
	}
}

// consumeQR forwards pairing codes to the bus and terminal until the
// channel settles.
func (m *Manager) consumeQR(ctx context.Context, epoch uint64, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-qrChan:
			if !ok {
				return
			}
			if !m.epochCurrent(epoch) {
				return
			}
			switch item.Event {
			case "code":
				m.setChallenge(item.Code)
			case "success":
				// Connected event follows; nothing to do.
			case "timeout":
				m.log.Warn("pairing challenge expired, restarting handshake")
				m.restart(epoch)
				return
			default:
				m.log.Warn("pairing failed", "event", item.Event)
			}
		}
	}
}

// handleEvent is the single entry point for client callbacks. Stale epochs
// are dropped before anything else.
func (m *Manager) handleEvent(epoch uint64, event any) {
	if !m.epochCurrent(epoch) {
		return
	}
	ctx := m.processCtx()

	switch evt := event.(type) {
	case *events.Connected:
		m.setState(StateConnected)
		m.log.Info("channel connected")
		m.router.Dispatch(ctx, ConnectionEvent{State: StateConnected})

	case *events.Disconnected:
		// Transient: reconnect with existing credentials, paced by backoff.
		m.setState(StateDisconnected)
		m.log.Warn("channel disconnected, reconnecting")
		m.router.Dispatch(ctx, ConnectionEvent{State: StateDisconnected})
		go m.reconnectLoop(epoch)

	case *events.LoggedOut:
		// Terminal: the network revoked the session. Old credentials are
		// never retried; a full reset issues a fresh challenge.
		m.log.Warn("session revoked by network", "reason", evt.Reason)
		go func() {
			if err := m.Reset(ctx); err != nil {
				m.log.Error("reset after revocation failed", "error", err)
			}
		}()

	case *events.Message:
		m.router.Dispatch(ctx, decodeMessage(m.currentClient(), evt))

	case *events.Receipt:
		ids := make([]string, len(evt.MessageIDs))
		for i, id := range evt.MessageIDs {
			ids[i] = string(id)
		}
		m.router.Dispatch(ctx, ReceiptEvent{MessageIDs: ids, Status: receiptStatus(evt)})

	case *events.ChatPresence:
		m.router.Dispatch(ctx, PresenceEvent{
			ContactID: evt.Chat.String(),
			Composing: evt.State == types.ChatPresenceComposing,
		})
	}
}

// reconnectLoop retries Connect with capped exponential backoff until the
// connection is live, the epoch is superseded, or the process exits.
func (m *Manager) reconnectLoop(epoch uint64) {
	ctx := m.processCtx()
	for attempt := 1; ; attempt++ {
		delay := m.backoff.Delay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if !m.epochCurrent(epoch) {
			return
		}

		client := m.currentClient()
		if client == nil {
			return
		}
		if client.IsConnected() {
			return
		}
		if m.metrics != nil {
			m.metrics.ReconnectAttempts.Inc()
		}
		m.log.Info("reconnect attempt", "attempt", attempt)
		if err := client.Connect(); err != nil {
			m.log.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		return
	}
}

// restart supersedes the current handshake and begins a new one without
// deleting the stored session.
func (m *Manager) restart(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.epoch++
	next := m.epoch
	client := m.client
	container := m.container
	m.client = nil
	m.container = nil
	m.challenge = ""
	m.state = StateDisconnected
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		container.Close()
	}
	go m.connect(next)
}

// Close tears down the connection without touching the stored session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.epoch++
	client := m.client
	container := m.container
	m.client = nil
	m.container = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		container.Close()
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	if state == StateConnected {
		m.challenge = ""
	}
	m.mu.Unlock()
	m.publishStatus(state)
}

func (m *Manager) setChallenge(code string) {
	m.mu.Lock()
	m.challenge = code
	m.state = StateConnecting
	m.mu.Unlock()

	m.log.Info("pairing challenge issued, scan to connect")
	if qr, err := qrcode.New(code, qrcode.Low); err == nil {
		fmt.Print(qr.ToSmallString(false))
	}
	m.bus.Publish(bus.EventChannelQR, code)
	m.publishStatus(StateConnecting)
}

func (m *Manager) publishStatus(state State) {
	m.bus.Publish(bus.EventChannelStatus, map[string]string{"status": string(state)})
}

func (m *Manager) epochCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return epoch == m.epoch
}

func (m *Manager) currentClient() *whatsmeow.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) processCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}
