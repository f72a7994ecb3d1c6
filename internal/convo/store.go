package convo

import (
	"context"
	"sync"
	"time"
)

// Store holds conversation histories by key. Implementations own their
// concurrency safety; Lock gives callers per-key mutual exclusion across a
// whole load-call-append sequence.
type Store interface {
	// Load returns a copy of the history for key, oldest first.
	Load(ctx context.Context, key string) ([]Message, error)

	// Append adds msgs to the end of the history for key, in order.
	Append(ctx context.Context, key string, msgs ...Message) error

	// TrimFront removes the n oldest messages for key.
	TrimFront(ctx context.Context, key string, n int) error

	// Delete forgets key entirely.
	Delete(ctx context.Context, key string) error

	// Lock acquires the per-key lock and returns its release function.
	Lock(key string) (unlock func())
}

type conversation struct {
	messages []Message
	touched  time.Time
}

// keyLock is a per-key mutex. refs counts holders and waiters; the entry
// leaves the locks map when it drops to zero.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// MemoryStore keeps histories in process memory. Nothing survives a restart.
// With a non-zero TTL, keys idle for longer than the TTL are forgotten on
// Sweep.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*conversation
	locks map[string]*keyLock
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates an empty store. ttl <= 0 disables key expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*conversation),
		locks: make(map[string]*keyLock),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, key string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[key]
	if !ok {
		return nil, nil
	}
	cp := make([]Message, len(c.messages))
	copy(cp, c.messages)
	return cp, nil
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, key string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok {
		c = &conversation{}
		s.convs[key] = c
	}
	c.messages = append(c.messages, msgs...)
	c.touched = s.now()
	return nil
}

// TrimFront implements Store.
func (s *MemoryStore) TrimFront(ctx context.Context, key string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok || n <= 0 {
		return nil
	}
	if n >= len(c.messages) {
		c.messages = nil
		return nil
	}
	kept := make([]Message, len(c.messages)-n)
	copy(kept, c.messages[n:])
	c.messages = kept
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, key)
	return nil
}

// Lock implements Store. The returned function must be called exactly once.
func (s *MemoryStore) Lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, key)
			}
			s.mu.Unlock()
		})
	}
}

// lockedKeys returns the number of keys with a holder or waiter.
func (s *MemoryStore) lockedKeys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Sweep forgets every key idle for longer than the TTL and returns how many
// were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.convs {
		if now.Sub(c.touched) <= s.ttl {
			continue
		}
		// Skip keys with a turn in flight.
		if _, busy := s.locks[key]; busy {
			continue
		}
		delete(s.convs, key)
		removed++
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
