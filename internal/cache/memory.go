package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/product"
)

// memoryItem keeps the encoded entry so readers always decode a private
// copy; the creation time is duplicated to list keys without decoding.
type memoryItem struct {
	data      []byte
	createdAt time.Time
}

// MemoryStore is an in-process Store backed by go-cache. Its janitor
// sweeps expired items eagerly when SweepInterval is set.
type MemoryStore struct {
	// mu orders Put against evictions so a stale read never removes a
	// newer write.
	mu    sync.Mutex
	items *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts.normalize()
	return &MemoryStore{
		items: gocache.New(gocache.NoExpiration, opts.SweepInterval),
		ttl:   opts.TTL,
		now:   opts.Now,
		log:   opts.Logger.Module("memory"),
	}
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) Get(_ context.Context, upc string) (*product.Record, bool, error) {
	v, found := s.items.Get(upc)
	if !found {
		return nil, false, nil
	}
	item, ok := v.(memoryItem)
	if !ok {
		s.items.Delete(upc)
		return nil, false, nil
	}
	if (&product.Entry{CreatedAt: item.createdAt}).Expired(s.now(), s.ttl) {
		s.evict(upc, item)
		return nil, false, nil
	}

	entry, err := product.DecodeEntry(item.data)
	if err != nil {
		s.log.Warn("dropping undecodable cache entry", logger.String("upc", upc), logger.Error(err))
		s.evict(upc, item)
		return nil, false, nil
	}
	return entry.Record, true, nil
}

func (s *MemoryStore) Put(_ context.Context, upc string, rec *product.Record) error {
	now := s.now()
	data, err := product.EncodeEntry(&product.Entry{Record: rec, CreatedAt: now})
	if err != nil {
		return err
	}

	expiration := gocache.NoExpiration
	if s.ttl > 0 {
		expiration = s.ttl
	}
	s.mu.Lock()
	s.items.Set(upc, memoryItem{data: data, createdAt: now}, expiration)
	s.mu.Unlock()
	return nil
}

// evict removes upc only if it still holds seen.
func (s *MemoryStore) evict(upc string, seen memoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.items.Get(upc)
	if !found {
		return
	}
	cur, ok := v.(memoryItem)
	if ok && cur.createdAt.Equal(seen.createdAt) && bytes.Equal(cur.data, seen.data) {
		s.items.Delete(upc)
	}
}

func (s *MemoryStore) Delete(_ context.Context, upc string) error {
	s.items.Delete(upc)
	return nil
}

func (s *MemoryStore) ListKeys(_ context.Context) ([]string, error) {
	now := s.now()
	items := s.items.Items()
	keys := make([]string, 0, len(items))
	for upc, it := range items {
		item, ok := it.Object.(memoryItem)
		if !ok || (&product.Entry{CreatedAt: item.createdAt}).Expired(now, s.ttl) {
			continue
		}
		keys = append(keys, upc)
	}
	return keys, nil
}

// Close drops all entries.
func (s *MemoryStore) Close() error {
	s.items.Flush()
	return nil
}
