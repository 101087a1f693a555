// Package triage is the inbound message pipeline: it persists what arrived,
// runs the assistant while automation is on, files tickets from handoff
// reports, and delivers the visible reply back through the channel.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/assistant"
	"github.com/omnidesk/omnidesk/internal/bus"
	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/media"
	"github.com/omnidesk/omnidesk/internal/observability"
	"github.com/omnidesk/omnidesk/internal/storage"
	"github.com/omnidesk/omnidesk/pkg/models"
)

// Placeholder contents stored when there is nothing textual to persist.
const (
	downloadFailedContent = "[Erro ao baixar arquivo]"
	mediaContentFormat    = "[Arquivo: %s]"
)

// defaultContactName seeds contacts whose first message carries no push name.
const defaultContactName = "Cliente Novo"

// Generator is the assistant surface the pipeline drives.
type Generator interface {
	Generate(ctx context.Context, text, conversationID, mediaPath string) string
}

// Sender is the outbound channel surface the pipeline drives.
type Sender interface {
	Send(ctx context.Context, contactID, text string) error
	SendTyping(ctx context.Context, contactID string) error
}

// Publisher is the slice of the notification bus the pipeline needs.
type Publisher interface {
	Publish(event string, payload any)
}

// Pipeline handles decoded inbound messages. One instance serves all
// contacts; per-contact ordering is the router's job.
type Pipeline struct {
	stores    storage.StoreSet
	media     *media.Store
	assistant Generator
	sender    Sender
	bus       Publisher
	log       *slog.Logger
	metrics   *observability.Metrics
}

// New wires a pipeline.
func New(stores storage.StoreSet, mediaStore *media.Store, gen Generator, sender Sender, publisher Publisher, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		stores:    stores,
		media:     mediaStore,
		assistant: gen,
		sender:    sender,
		bus:       publisher,
		log:       logger.With("component", "triage"),
		metrics:   metrics,
	}
}

// HandleMessage processes one inbound message end to end. An error return
// means the message could not be persisted; everything after persistence
// degrades instead of failing.
func (p *Pipeline) HandleMessage(ctx context.Context, evt channel.MessageEvent) error {
	if evt.Kind == channel.ContentUnsupported {
		p.log.Debug("dropping unsupported content", "contact", evt.ContactID, "message_id", evt.ID)
		return nil
	}

	contact, err := p.stores.Contacts.UpsertByChannelID(ctx, evt.ContactID, storage.ContactDefaults{
		Name:              contactName(evt.PushName),
		AutomationEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	content, mediaPath, mediaRef := p.resolveContent(ctx, evt)

	inbound := &models.Message{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Content:   content,
		Direction: models.DirectionInbound,
		Origin:    models.OriginHuman,
		MediaKind: evt.Kind.MediaKind(),
		MediaRef:  mediaRef,
		CreatedAt: time.Now(),
	}
	if err := p.stores.Messages.Create(ctx, inbound); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}
	if err := p.stores.Contacts.TouchActivity(ctx, contact.ID); err != nil {
		p.log.Warn("touch activity failed", "contact", contact.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.MessagesInbound.WithLabelValues(string(inbound.MediaKind)).Inc()
	}
	p.bus.Publish(bus.EventMessageNew, inbound)

	// The automation flag is read fresh here, not from the upsert result: an
	// operator toggling automation off mid-conversation takes effect on the
	// very next message, even one already queued behind this handler.
	fresh, err := p.stores.Contacts.Get(ctx, contact.ID)
	if err != nil {
		return fmt.Errorf("reload contact: %w", err)
	}
	if !fresh.AutomationEnabled {
		return nil
	}

	if err := p.sender.SendTyping(ctx, evt.ContactID); err != nil {
		p.log.Debug("typing indicator failed", "contact", evt.ContactID, "error", err)
	}

	raw := p.assistant.Generate(ctx, content, contact.ID, mediaPath)

	report, reply, found, perr := assistant.ExtractReport(raw)
	if perr != nil {
		p.log.Warn("handoff report unparseable, treating as absent",
			"contact", contact.ID, "error", perr)
		if p.metrics != nil {
			p.metrics.ReportParseFailures.Inc()
		}
	}
	if found && perr == nil {
		p.fileTicket(ctx, contact, report)
	}

	if reply == "" {
		return nil
	}
	if err := p.sender.Send(ctx, evt.ContactID, reply); err != nil {
		// Not persisted: the contact never saw this reply, so the stored
		// conversation must not claim otherwise.
		p.log.Error("reply delivery failed", "contact", evt.ContactID, "error", err)
		return nil
	}

	outbound := &models.Message{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Content:   reply,
		Direction: models.DirectionOutbound,
		Origin:    models.OriginAssistant,
		MediaKind: models.MediaText,
		CreatedAt: time.Now(),
	}
	if err := p.stores.Messages.Create(ctx, outbound); err != nil {
		p.log.Error("persist outbound message failed", "contact", contact.ID, "error", err)
		return nil
	}
	if p.metrics != nil {
		p.metrics.RepliesSent.Inc()
	}
	p.bus.Publish(bus.EventMessageNew, outbound)
	return nil
}

// resolveContent downloads and stores media when present, and decides the
// persisted message content. A failed download degrades to a placeholder;
// the pipeline never drops a message over media.
func (p *Pipeline) resolveContent(ctx context.Context, evt channel.MessageEvent) (content, mediaPath, mediaRef string) {
	content = evt.Text

	if evt.Download == nil {
		return content, "", ""
	}

	data, err := evt.Download(ctx)
	if err != nil {
		p.log.Error("media download failed", "contact", evt.ContactID,
			"message_id", evt.ID, "error", err)
		if p.metrics != nil {
			p.metrics.MediaDownloadFailures.Inc()
		}
		return downloadFailedContent, "", ""
	}

	saved, err := p.media.Save(ctx, data, evt.ContactID, evt.MIMEType)
	if err != nil {
		p.log.Error("media store failed", "contact", evt.ContactID,
			"message_id", evt.ID, "error", err)
		if p.metrics != nil {
			p.metrics.MediaDownloadFailures.Inc()
		}
		return downloadFailedContent, "", ""
	}

	if content == "" {
		content = fmt.Sprintf(mediaContentFormat, evt.Kind)
	}
	return content, saved.Path, saved.Ref
}

// fileTicket creates a queued ticket from a parsed handoff report.
func (p *Pipeline) fileTicket(ctx context.Context, contact *models.Contact, report assistant.Report) {
	now := time.Now()
	ticket := &models.Ticket{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Title:     report.TicketTitle(),
		Priority:  report.TicketPriority(),
		Status:    models.TicketQueued,
		Summary:   map[string]any(report),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.stores.Tickets.Create(ctx, ticket); err != nil {
		p.log.Error("ticket creation failed", "contact", contact.ID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.TicketsCreated.Inc()
	}
	p.log.Info("ticket filed from handoff report",
		"ticket", ticket.ID, "contact", contact.ID, "priority", ticket.Priority)
	p.bus.Publish(bus.EventTicketUpdate, ticket)
}

func contactName(pushName string) string {
	if pushName == "" {
		return defaultContactName
	}
	return pushName
}
