package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The assistant embeds its handoff report between fixed sentinels so it can
// travel inside an ordinary text reply. The block must never reach the
// contact; the triage pipeline strips it before sending.
const (
	ReportStart = "[REPORT_START]"
	ReportEnd   = "[REPORT_END]"
)

// Report is the parsed handoff summary. Keys are whatever the model emitted;
// the ticket fields read them defensively with defaults.
type Report map[string]any

// TicketTitle returns the report's "tema" field or a default.
func (r Report) TicketTitle() string {
	if v, ok := r["tema"].(string); ok && v != "" {
		return v
	}
	return "Triagem Finalizada"
}

// TicketPriority returns the report's "prioridade" field or "medium".
func (r Report) TicketPriority() string {
	if v, ok := r["prioridade"].(string); ok && v != "" {
		return v
	}
	return "medium"
}

// ExtractReport locates the first sentinel-delimited block in raw.
//
// remainder is raw with the block removed and whitespace trimmed — computed
// whether or not the block parses, so a malformed report still never leaks to
// the contact. found reports whether both sentinels were present; err is
// non-nil when a block was found but its JSON did not parse.
func ExtractReport(raw string) (report Report, remainder string, found bool, err error) {
	start := strings.Index(raw, ReportStart)
	if start < 0 {
		return nil, strings.TrimSpace(raw), false, nil
	}
	rest := raw[start+len(ReportStart):]
	end := strings.Index(rest, ReportEnd)
	if end < 0 {
		// Opening sentinel without a close: treat as plain text, matching
		// the strict open+close matching of the report protocol.
		return nil, strings.TrimSpace(raw), false, nil
	}

	body := rest[:end]
	remainder = strings.TrimSpace(raw[:start] + rest[end+len(ReportEnd):])

	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, remainder, true, fmt.Errorf("parse report: %w", err)
	}
	return report, remainder, true, nil
}

// StripReport removes the first sentinel-delimited block (parseable or not)
// and trims the result.
func StripReport(raw string) string {
	_, remainder, _, _ := ExtractReport(raw)
	return remainder
}
