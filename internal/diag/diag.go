// Package diag keeps an append-only diagnostic log of application errors,
// separate from the operational log stream. Each entry is one JSON line with
// the error kind, severity and the operation that failed, so support can read
// a session's failures without scraping stdout.
package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"chathub/internal/apperr"
)

type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
}

// Open creates (or appends to) the diagnostic log file at path.
func Open(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create diag dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open diag log: %w", err)
	}
	return &Recorder{
		file:   f,
		logger: zerolog.New(f).With().Timestamp().Logger(),
	}, nil
}

// NewWriter builds a Recorder over an arbitrary writer. Used in tests and
// when no log path is configured (pass io.Discard).
func NewWriter(w io.Writer) *Recorder {
	return &Recorder{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Record appends one entry for err, tagged with the operation that failed.
// Plain errors are logged with an empty kind; *apperr.Error entries carry
// their kind, severity and recoverability.
func (r *Recorder) Record(operation string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := r.logger.Error().Str("operation", operation)
	if kind := apperr.KindOf(err); kind != "" {
		ev = ev.Str("kind", string(kind))
	}
	ev.Err(err).Msg("recorded")
}

func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
