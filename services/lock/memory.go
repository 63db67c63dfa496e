package locksvc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mtihani/core"
)

type hold struct {
	token   string
	expires time.Time
}

// MemoryLocker serializes work within a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]hold
	clock func() time.Time
}

var _ core.Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]hold), clock: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if h, found := l.held[key]; found && now.Before(h.expires) {
		return nil, core.ErrLocked
	}
	token := uuid.NewString()
	l.held[key] = hold{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, found := l.held[key]; found && h.token == token {
			delete(l.held, key)
		}
	}, nil
}
