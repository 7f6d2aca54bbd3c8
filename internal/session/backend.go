package session

import (
	"context"
	"sync"
	"time"
)

// Backend persists sessions keyed by user ID. Load returns nil, nil when the
// user has no session.
type Backend interface {
	Load(ctx context.Context, userID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID string) error
}

// Sweeper is implemented by backends that need explicit expiry.
type Sweeper interface {
	Sweep(ctx context.Context, before time.Time) (int, error)
}

// MemoryBackend keeps sessions in process memory. It never returns an error.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*Session)}
}

func (b *MemoryBackend) Load(_ context.Context, userID string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[userID].Clone(), nil
}

func (b *MemoryBackend) Save(_ context.Context, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.UserID] = s.Clone()
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, userID)
	return nil
}

// Sweep drops sessions last updated before the cutoff.
func (b *MemoryBackend) Sweep(_ context.Context, before time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for userID, s := range b.sessions {
		if s.UpdatedAt.Before(before) {
			delete(b.sessions, userID)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}
