// Package media persists inbound attachments to disk and hands out
// references the HTTP static handler can serve later.
package media

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SavedFile is the result of persisting an attachment: the absolute path on
// disk (fed to the assistant for multimodal prompts) and the URL reference
// persisted with the message.
type SavedFile struct {
	Path string
	Ref  string
}

// Store writes attachments under a single directory. File names combine a
// millisecond timestamp with the tail of the contact identifier and an
// extension derived from the declared MIME type, so concurrent saves for
// different contacts cannot collide.
type Store struct {
	dir     string
	baseURL string
}

// NewStore creates the uploads directory if needed.
func NewStore(dir, baseURL string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("media: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create dir: %w", err)
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory files are stored under.
func (s *Store) Dir() string { return s.dir }

// Save writes data to disk and returns its path and reference.
func (s *Store) Save(ctx context.Context, data []byte, contactID, mimeType string) (SavedFile, error) {
	if err := ctx.Err(); err != nil {
		return SavedFile{}, err
	}
	name := fileName(contactID, mimeType, time.Now())
	full := filepath.Join(s.dir, name)
	if _, err := os.Stat(full); err == nil {
		// Same contact, same millisecond. Disambiguate.
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "_" + uuid.NewString()[:8] + ext
		full = filepath.Join(s.dir, name)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return SavedFile{}, fmt.Errorf("media: write %s: %w", name, err)
	}
	return SavedFile{Path: full, Ref: path.Join(s.baseURL, name)}, nil
}

// fileName derives the collision-resistant name: unix-millis, last four runes
// of the contact identifier, extension from the MIME type. Unknown MIME types
// fall back to .bin.
func fileName(contactID, mimeType string, now time.Time) string {
	suffix := contactID
	if at := strings.IndexByte(suffix, '@'); at > 0 {
		suffix = suffix[:at]
	}
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("%d_%s%s", now.UnixMilli(), suffix, extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	// Strip parameters like "; codecs=opus" before the lookup.
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(mimeType)

	// Preferred extensions for the types WhatsApp actually sends; the
	// platform mime table can be surprising (e.g. image/jpeg -> .jpe).
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "application/pdf":
		return ".pdf"
	}

	exts, err := mime.ExtensionsByType(mimeType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
