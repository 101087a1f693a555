package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/omnidesk/omnidesk/internal/bus"
)

// MessageHandler consumes decoded inbound messages. Implemented by the
// triage pipeline.
type MessageHandler interface {
	HandleMessage(ctx context.Context, evt MessageEvent) error
}

// Publisher is the slice of the notification bus the channel needs.
type Publisher interface {
	Publish(event string, payload any)
}

// queueDepth bounds how far one contact's conversation may lag before
// events are shed. Shedding is logged; blocking would stall ingestion for
// every other contact.
const queueDepth = 256

// Router consumes the session manager's event stream and dispatches by
// event kind. Handler failures are contained per event: a panicking or
// erroring handler never kills the stream.
//
// Messages are serialized per contact: each contact gets a FIFO worker, so
// two back-to-back messages from one contact are handled in arrival order
// even when the first one's media download is slow, while different
// contacts proceed concurrently.
type Router struct {
	log     *slog.Logger
	bus     Publisher
	handler MessageHandler

	mu     sync.Mutex
	queues map[string]chan MessageEvent
	closed bool
	wg     sync.WaitGroup
}

// NewRouter creates a router dispatching messages to handler.
func NewRouter(handler MessageHandler, publisher Publisher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		log:     logger.With("component", "router"),
		bus:     publisher,
		handler: handler,
		queues:  make(map[string]chan MessageEvent),
	}
}

// Dispatch routes one decoded event. It never blocks on handler latency.
func (r *Router) Dispatch(ctx context.Context, event any) {
	switch evt := event.(type) {
	case MessageEvent:
		r.dispatchMessage(ctx, evt)
	case PresenceEvent:
		if evt.Composing {
			r.bus.Publish(bus.EventTyping, map[string]string{"contactId": evt.ContactID})
		}
	case ReceiptEvent:
		// Passthrough in arrival order; no reordering or deduplication.
		for _, id := range evt.MessageIDs {
			r.bus.Publish(bus.EventMessageStatus, map[string]any{
				"id":     id,
				"status": evt.Status,
			})
		}
	case ConnectionEvent:
		r.log.Info("connection state changed", "state", evt.State)
	default:
		r.log.Debug("ignoring unknown event", "type", event)
	}
}

func (r *Router) dispatchMessage(ctx context.Context, evt MessageEvent) {
	// Echoes of the desk's own sends never reach the pipeline.
	if evt.FromSelf {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	queue, ok := r.queues[evt.ContactID]
	if !ok {
		queue = make(chan MessageEvent, queueDepth)
		r.queues[evt.ContactID] = queue
		r.wg.Add(1)
		go r.contactWorker(ctx, queue)
	}
	r.mu.Unlock()

	select {
	case queue <- evt:
	default:
		r.log.Error("contact queue full, shedding event",
			"contact", evt.ContactID, "message_id", evt.ID)
	}
}

// contactWorker drains one contact's queue in FIFO order.
func (r *Router) contactWorker(ctx context.Context, queue <-chan MessageEvent) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-queue:
			if !ok {
				return
			}
			r.safeHandle(ctx, evt)
		}
	}
}

// safeHandle invokes the handler with an error boundary: panics and errors
// are logged, never propagated.
func (r *Router) safeHandle(ctx context.Context, evt MessageEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("message handler panicked",
				"contact", evt.ContactID, "message_id", evt.ID, "panic", rec)
		}
	}()
	if err := r.handler.HandleMessage(ctx, evt); err != nil {
		r.log.Error("message handling failed",
			"contact", evt.ContactID, "message_id", evt.ID, "error", err)
	}
}

// Close stops accepting events and waits for in-flight handlers.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, queue := range r.queues {
		close(queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
