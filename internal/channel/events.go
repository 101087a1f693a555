package channel

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/omnidesk/omnidesk/pkg/models"
)

// State is the channel connection state. Exactly one instance exists,
// owned by the session Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is the externally visible connection state plus the pending pairing
// challenge, if one is outstanding.
type Status struct {
	State     State  `json:"status"`
	Challenge string `json:"qr,omitempty"`
}

// ContentKind classifies inbound message content at the network boundary.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentImage       ContentKind = "image"
	ContentAudio       ContentKind = "audio"
	ContentDocument    ContentKind = "document"
	ContentUnsupported ContentKind = "unsupported"
)

// MediaKind maps a content kind onto the persisted media kind.
func (k ContentKind) MediaKind() models.MediaKind {
	switch k {
	case ContentImage:
		return models.MediaImage
	case ContentAudio:
		return models.MediaAudio
	case ContentDocument:
		return models.MediaDocument
	default:
		return models.MediaText
	}
}

// Delivery status codes forwarded to the front end, matching the wire values
// it renders as ticks.
const (
	ReceiptSent      = 3
	ReceiptDelivered = 4
	ReceiptRead      = 5
)

// MessageEvent is one inbound conversational message, decoded from the
// network payload. Media is not downloaded eagerly; Download fetches the
// binary when the pipeline decides to persist it.
type MessageEvent struct {
	ID        string
	ContactID string
	PushName  string
	Kind      ContentKind
	Text      string
	MIMEType  string
	FromSelf  bool
	Timestamp time.Time
	Download  func(ctx context.Context) ([]byte, error)
}

// PresenceEvent is a chat-state update from a contact.
type PresenceEvent struct {
	ContactID string
	Composing bool
}

// ReceiptEvent reports delivery progress for previously sent messages.
// Order is passthrough: receipts are forwarded exactly as received.
type ReceiptEvent struct {
	MessageIDs []string
	Status     int
}

// ConnectionEvent reports a connection state change.
type ConnectionEvent struct {
	State State
}

// decodeMessage translates a whatsmeow message event into the boundary
// union. Payload shapes are dynamic on the wire; nothing beyond this
// function sees the raw protobufs.
func decodeMessage(client *whatsmeow.Client, evt *events.Message) MessageEvent {
	out := MessageEvent{
		ID:        evt.Info.ID,
		ContactID: evt.Info.Chat.String(),
		PushName:  evt.Info.PushName,
		FromSelf:  evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		out.Kind = ContentText
		out.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		out.Kind = ContentText
		out.Text = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		out.Kind = ContentImage
		out.Text = img.GetCaption()
		out.MIMEType = img.GetMimetype()
		out.Download = func(ctx context.Context) ([]byte, error) {
			return client.Download(ctx, img)
		}
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		out.Kind = ContentAudio
		out.MIMEType = audio.GetMimetype()
		out.Download = func(ctx context.Context) ([]byte, error) {
			return client.Download(ctx, audio)
		}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		out.Kind = ContentDocument
		out.Text = doc.GetCaption()
		out.MIMEType = doc.GetMimetype()
		out.Download = func(ctx context.Context) ([]byte, error) {
			return client.Download(ctx, doc)
		}
	default:
		// Stickers, contact cards, reactions, polls...
		out.Kind = ContentUnsupported
	}
	return out
}

// receiptStatus maps whatsmeow receipt types to the numeric codes above.
func receiptStatus(evt *events.Receipt) int {
	switch evt.Type {
	case "read", "read-self":
		return ReceiptRead
	case "", "delivered":
		return ReceiptDelivered
	default:
		return ReceiptSent
	}
}
