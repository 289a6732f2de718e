package presence

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store built on go-cache.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates a MemoryStore whose entries live for ttl and whose
// expired entries are purged every cleanupInterval.
//
// Parameters:
//   - ttl: Lifetime of an entry after its last MarkOnline
//   - cleanupInterval: Interval at which expired entries are removed
//
// Returns:
//   - A new MemoryStore
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

func (s *MemoryStore) MarkOnline(ctx context.Context, id string, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Set(id, addr, s.ttl)
	return nil
}

func (s *MemoryStore) MarkOffline(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Delete(id)
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	v, found := s.cache.Get(id)
	if !found {
		return "", false, nil
	}

	addr, _ := v.(string)
	return addr, true, nil
}

// Count ignores entries that have expired but not been purged yet.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return len(s.cache.Items()), nil
}
