package assistant

import (
	"fmt"
	"strings"
	"sync"
)

// truncationMarker prefixes a transcript whose oldest turns were dropped, so
// the model knows context is partial.
const truncationMarker = "..."

// Window keeps a sliding plain-text transcript per conversation. It lives in
// process memory only and resets on restart; durability here would change
// observable behavior (the assistant deliberately forgets on redeploy).
type Window struct {
	mu    sync.Mutex
	limit int
	keep  int
	buf   map[string]string
}

// NewWindow creates a window capped at limit characters; on overflow the
// transcript is cut to its final keep characters.
func NewWindow(limit, keep int) *Window {
	if limit <= 0 {
		limit = 10000
	}
	if keep <= 0 || keep >= limit {
		keep = limit * 4 / 5
	}
	return &Window{limit: limit, keep: keep, buf: make(map[string]string)}
}

// Transcript returns the buffered history for a conversation.
func (w *Window) Transcript(conversationID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf[conversationID]
}

// Append records one exchanged turn. Truncation happens whole-append: the
// turn is written first, then the oldest end is cut, so a turn is never half
// dropped.
func (w *Window) Append(conversationID, userText, reply string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	transcript := w.buf[conversationID]
	transcript += fmt.Sprintf("\nCliente: %q\nAssistente: %q", userText, reply)

	if len(transcript) > w.limit {
		cut := len(transcript) - w.keep
		transcript = truncationMarker + transcript[cut:]
	}
	w.buf[conversationID] = transcript
}

// Reset drops the transcript for one conversation.
func (w *Window) Reset(conversationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.buf, conversationID)
}

// Truncated reports whether a transcript has lost its oldest turns.
func (w *Window) Truncated(conversationID string) bool {
	return strings.HasPrefix(w.Transcript(conversationID), truncationMarker)
}
