package assistant

import (
	"strings"
	"testing"
)

func TestWindowAppendAndTranscript(t *testing.T) {
	w := NewWindow(10000, 8000)
	w.Append("c1", "oi", "olá, como posso ajudar?")
	w.Append("c1", "preciso de ajuda", "claro")

	transcript := w.Transcript("c1")
	if !strings.Contains(transcript, "oi") || !strings.Contains(transcript, "claro") {
		t.Errorf("transcript missing turns: %q", transcript)
	}
	if w.Transcript("c2") != "" {
		t.Error("windows leaked across conversations")
	}
}

func TestWindowTruncatesOldestWithMarker(t *testing.T) {
	w := NewWindow(500, 400)
	filler := strings.Repeat("a", 120)
	for i := 0; i < 10; i++ {
		w.Append("c1", filler, "ok")
	}

	transcript := w.Transcript("c1")
	if len(transcript) > 500+len(truncationMarker) {
		t.Errorf("transcript length %d exceeds cap", len(transcript))
	}
	if !w.Truncated("c1") {
		t.Error("truncation marker missing after overflow")
	}
	// The newest turn must survive truncation whole.
	if !strings.HasSuffix(transcript, "Assistente: \"ok\"") {
		t.Errorf("newest turn damaged: %q", transcript[len(transcript)-40:])
	}
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(1000, 800)
	w.Append("c1", "oi", "olá")
	w.Reset("c1")
	if w.Transcript("c1") != "" {
		t.Error("reset did not clear transcript")
	}
}
