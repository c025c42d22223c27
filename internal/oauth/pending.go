package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingStore registers issued state nonces and consumes each at most once.
type PendingStore interface {
	// Put registers nonce for ttl. Registering an existing nonce fails.
	Put(ctx context.Context, nonce string, issuedAt time.Time, ttl time.Duration) error
	// Take removes nonce and returns its issue time; ok is false when it was never
	// issued, already consumed, or expired.
	Take(ctx context.Context, nonce string) (issuedAt time.Time, ok bool, err error)
}

var errNonceExists = errors.New("nonce already registered")

// RedisPendingStore shares pending states across instances and survives restarts.
type RedisPendingStore struct {
	client redis.UniversalClient
	prefix string
}

var _ PendingStore = (*RedisPendingStore)(nil)

func NewRedisPendingStore(client redis.UniversalClient) *RedisPendingStore {
	return &RedisPendingStore{client: client, prefix: "oauth:pending:"}
}

func (s *RedisPendingStore) Put(ctx context.Context, nonce string, issuedAt time.Time, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+nonce, strconv.FormatInt(issuedAt.UnixNano(), 10), ttl).Result()
	if err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	if !ok {
		return errNonceExists
	}
	return nil
}

func (s *RedisPendingStore) Take(ctx context.Context, nonce string) (time.Time, bool, error) {
	v, err := s.client.GetDel(ctx, s.prefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("consume state: %w", err)
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns), true, nil
}

// MemoryPendingStore is process local; expired entries are swept whenever the store is touched.
type MemoryPendingStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]pendingEntry
}

type pendingEntry struct {
	issuedAt  time.Time
	expiresAt time.Time
}

var _ PendingStore = (*MemoryPendingStore)(nil)

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{now: time.Now, entries: map[string]pendingEntry{}}
}

func (s *MemoryPendingStore) Put(_ context.Context, nonce string, issuedAt time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	if _, exists := s.entries[nonce]; exists {
		return errNonceExists
	}
	s.entries[nonce] = pendingEntry{issuedAt: issuedAt, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryPendingStore) Take(_ context.Context, nonce string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	e, ok := s.entries[nonce]
	if !ok {
		return time.Time{}, false, nil
	}
	delete(s.entries, nonce)
	return e.issuedAt, true, nil
}

// Len reports live entries; used by tests and the cleanup metric.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.entries)
}

func (s *MemoryPendingStore) sweep() {
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
