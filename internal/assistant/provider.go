// Package assistant generates triage replies for inbound conversations. It
// keeps a bounded per-conversation transcript, feeds it to an LLM provider
// together with the current turn (and any media), and hands the raw response
// back to the triage pipeline, which owns report extraction for the user.
package assistant

import "context"

// Request is one completion call.
type Request struct {
	// System is the triage persona and report protocol instructions.
	System string
	// Prompt is the assembled transcript plus the current turn.
	Prompt string
	// MediaData/MediaMIME carry an inline attachment when the contact sent
	// audio, an image or a document.
	MediaData []byte
	MediaMIME string
}

// Provider is an LLM backend capable of one-shot multimodal completion.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
