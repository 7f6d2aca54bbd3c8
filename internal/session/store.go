package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long an untouched session stays alive.
const DefaultTTL = 24 * time.Hour

// ErrUnknownField is returned by Advance for a field outside the sequence.
var ErrUnknownField = errors.New("session: unknown field")

// Store owns the per-user sessions of one questionnaire. All reads and
// writes go through the configured Backend.
type Store struct {
	backend Backend
	steps   []string
	ttl     time.Duration
	now     func() time.Time
	locks   *Manager
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the idle expiry. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store for the given field sequence.
func NewStore(backend Backend, steps []string, opts ...Option) *Store {
	if backend == nil {
		panic("session: nil backend")
	}
	if len(steps) == 0 {
		panic("session: empty step sequence")
	}

	s := &Store{
		backend: backend,
		steps:   append([]string(nil), steps...),
		ttl:     DefaultTTL,
		now:     time.Now,
		locks:   NewManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.locks.now = s.now
	return s
}

// Steps returns the field sequence.
func (s *Store) Steps() []string {
	return append([]string(nil), s.steps...)
}

// TTL returns the idle expiry.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the user's live session or nil.
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	sess, err := s.backend.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: loading %s: %w", userID, err)
	}
	if sess == nil {
		return nil, nil
	}
	if s.expired(sess) {
		if err := s.backend.Delete(ctx, userID); err != nil {
			return nil, fmt.Errorf("session: dropping expired %s: %w", userID, err)
		}
		return nil, nil
	}
	return sess, nil
}

// GetOrCreate returns the user's session, creating one positioned at the
// first field when none exists. The bool reports whether it was created.
func (s *Store) GetOrCreate(ctx context.Context, userID string) (*Session, bool, error) {
	sess, err := s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if sess != nil {
		return sess, false, nil
	}

	sess = newSession(userID, s.steps[0], s.now())
	if err := s.backend.Save(ctx, sess); err != nil {
		return nil, false, fmt.Errorf("session: creating %s: %w", userID, err)
	}
	return sess, true, nil
}

// Reset deletes the user's session. Deleting a missing session is not an
// error.
func (s *Store) Reset(ctx context.Context, userID string) error {
	if err := s.backend.Delete(ctx, userID); err != nil {
		return fmt.Errorf("session: resetting %s: %w", userID, err)
	}
	return nil
}

// Advance records value under field and moves to the field that follows it,
// or to StepDone after the last one. It returns nil, nil when the user has
// no session.
func (s *Store) Advance(ctx context.Context, userID, field, value string) (*Session, error) {
	idx := s.indexOf(field)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	sess, err := s.Get(ctx, userID)
	if err != nil || sess == nil {
		return nil, err
	}

	sess.Answers = sess.Answers.With(field, value)
	if idx+1 < len(s.steps) {
		sess.Step = s.steps[idx+1]
	} else {
		sess.Step = StepDone
	}
	sess.UpdatedAt = s.now()

	if err := s.backend.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: advancing %s: %w", userID, err)
	}
	return sess, nil
}

// Complete returns the collected answers and destroys the session. The
// bool is false when there was nothing to complete.
func (s *Store) Complete(ctx context.Context, userID string) (Answers, bool, error) {
	sess, err := s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if sess == nil {
		return nil, false, nil
	}
	if err := s.backend.Delete(ctx, userID); err != nil {
		return nil, false, fmt.Errorf("session: completing %s: %w", userID, err)
	}
	return sess.Answers, true, nil
}

// WithLock runs fn while holding the user's lock.
func (s *Store) WithLock(userID string, fn func() error) error {
	return s.locks.WithLock(userID, fn)
}

// Cleanup evicts idle locks and, for backends without native expiry,
// sessions past the TTL.
func (s *Store) Cleanup(ctx context.Context, maxLockAge time.Duration) (locks, sessions int, err error) {
	locks = s.locks.Cleanup(maxLockAge)

	sw, ok := s.backend.(Sweeper)
	if !ok || s.ttl <= 0 {
		return locks, 0, nil
	}
	sessions, err = sw.Sweep(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return locks, sessions, fmt.Errorf("session: sweeping: %w", err)
	}
	return locks, sessions, nil
}

func (s *Store) expired(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.UpdatedAt) > s.ttl
}

func (s *Store) indexOf(field string) int {
	for i, step := range s.steps {
		if step == field {
			return i
		}
	}
	return -1
}
