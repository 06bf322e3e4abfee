package ledger

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the explicit context of one batch run: the store it writes
// to, the logger for diagnostics, and the run's identity. A Session is
// owned by a single run and is passed to NewEngine; nothing about a run
// lives in package-level state.
type Session struct {
	ID        string
	Store     TxStore
	Logger    *zap.Logger
	StartedAt time.Time

	now func() time.Time
}

type SessionOption func(*Session)

// WithLogger sets the diagnostics logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.Logger = l
		}
	}
}

// WithRunID fixes the run id. Defaults to a fresh UUIDv7.
func WithRunID(id string) SessionOption {
	return func(s *Session) { s.ID = id }
}

// WithClock overrides time.Now, for deterministic run summaries in tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSession opens a run against store.
func NewSession(store TxStore, opts ...SessionOption) *Session {
	s := &Session{
		Store:  store,
		Logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ID == "" {
		s.ID = uuid.Must(uuid.NewV7()).String()
	}
	s.StartedAt = s.now().UTC()
	s.Logger = s.Logger.With(zap.String("run_id", s.ID))
	return s
}

// Now returns the session clock in UTC.
func (s *Session) Now() time.Time {
	return s.now().UTC()
}
