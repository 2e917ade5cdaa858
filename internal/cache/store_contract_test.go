package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/upc-lookup/internal/product"
)

const testUPC = "012993441012"

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sampleRecord(upc, title string) *product.Record {
	price := 9.99
	return &product.Record{
		UPC:                 upc,
		Title:               title,
		Brand:               "Brand " + title,
		Description:         "Description for " + title,
		Category:            "Grocery",
		LowestRecordedPrice: &price,
		Images:              []string{"http://localhost:5000/static/upc_images/" + upc + "/" + upc + "_1.jpg"},
		BestImage:           "http://localhost:5000/static/upc_images/" + upc + "/best_" + upc + ".jpg",
		Source:              product.SourceUPCItemDB,
		FetchedAt:           time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// storeFactory builds a fresh, empty store for one subtest.
type storeFactory func(t *testing.T, opts Options) Store

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()
	ttl := 30 * 24 * time.Hour

	t.Run("unknown key is absent without error", func(t *testing.T) {
		s := newStore(t, Options{TTL: ttl})
		rec, ok, err := s.Get(t.Context(), testUPC)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, rec)
	})

	t.Run("put then get returns identical data", func(t *testing.T) {
		s := newStore(t, Options{TTL: ttl})
		want := sampleRecord(testUPC, "Sparkling Water")
		require.NoError(t, s.Put(t.Context(), testUPC, want))

		got, ok, err := s.Get(t.Context(), testUPC)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mustJSON(t, want), mustJSON(t, got))
	})

	t.Run("put replaces the whole record", func(t *testing.T) {
		s := newStore(t, Options{TTL: ttl})
		require.NoError(t, s.Put(t.Context(), testUPC, sampleRecord(testUPC, "Old")))
		replacement := &product.Record{UPC: testUPC, Title: "New", Images: []string{}, Source: product.SourceUPCItemDB}
		require.NoError(t, s.Put(t.Context(), testUPC, replacement))

		got, ok, err := s.Get(t.Context(), testUPC)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mustJSON(t, replacement), mustJSON(t, got))
	})

	t.Run("expired entries are absent and unlisted", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, Options{TTL: ttl, Now: clock.Now})
		require.NoError(t, s.Put(t.Context(), testUPC, sampleRecord(testUPC, "A")))
		require.NoError(t, s.Put(t.Context(), "4006381333931", sampleRecord("4006381333931", "B")))

		clock.Advance(ttl)
		_, ok, err := s.Get(t.Context(), testUPC)
		require.NoError(t, err)
		assert.True(t, ok, "entry exactly at the TTL boundary is still valid")

		clock.Advance(time.Second)
		_, ok, err = s.Get(t.Context(), testUPC)
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := s.ListKeys(t.Context())
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("put restarts the ttl window", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, Options{TTL: ttl, Now: clock.Now})
		require.NoError(t, s.Put(t.Context(), testUPC, sampleRecord(testUPC, "A")))
		clock.Advance(ttl / 2)
		require.NoError(t, s.Put(t.Context(), testUPC, sampleRecord(testUPC, "A")))
		clock.Advance(ttl/2 + time.Hour)

		_, ok, err := s.Get(t.Context(), testUPC)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("zero ttl never returns data", func(t *testing.T) {
		s := newStore(t, Options{TTL: 0})
		require.NoError(t, s.Put(t.Context(), testUPC, sampleRecord(testUPC, "A")))

		_, ok, err := s.Get(t.Context(), testUPC)
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := s.ListKeys(t.Context())
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("list keys and delete", func(t *testing.T) {
		s := newStore(t, Options{TTL: ttl})
		upcs := []string{"012993441012", "4006381333931", "10012993441019"}
		for _, upc := range upcs {
			require.NoError(t, s.Put(t.Context(), upc, sampleRecord(upc, upc)))
		}

		keys, err := s.ListKeys(t.Context())
		require.NoError(t, err)
		assert.ElementsMatch(t, upcs, keys)

		require.NoError(t, s.Delete(t.Context(), upcs[0]))
		require.NoError(t, s.Delete(t.Context(), "000000000000"), "deleting unknown key")

		keys, err = s.ListKeys(t.Context())
		require.NoError(t, err)
		assert.ElementsMatch(t, upcs[1:], keys)
	})

	t.Run("concurrent writers never produce mixed records", func(t *testing.T) {
		s := newStore(t, Options{TTL: ttl})
		ctx := context.Background()
		variants := []*product.Record{sampleRecord(testUPC, "Alpha"), sampleRecord(testUPC, "Beta")}
		require.NoError(t, s.Put(ctx, testUPC, variants[0]))

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Go(func() {
				for j := range 20 {
					assert.NoError(t, s.Put(ctx, testUPC, variants[(i+j)%2]))
				}
			})
			wg.Go(func() {
				for range 20 {
					got, ok, err := s.Get(ctx, testUPC)
					if !assert.NoError(t, err) || !ok {
						continue
					}
					assert.Equal(t, "Brand "+got.Title, got.Brand, "fields from different writes")
				}
			})
		}
		wg.Wait()
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	runStoreContract(t, func(t *testing.T, opts Options) Store {
		t.Helper()
		s := NewMemoryStore(opts)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStoreBackendName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "memory", NewMemoryStore(Options{}).Backend())
}

func TestMemoryStoreEvictKeepsNewerWrite(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ttl := time.Hour
	s := NewMemoryStore(Options{TTL: ttl, Now: clock.Now})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Put(t.Context(), testUPC, sampleRecord(testUPC, "Old")))
	v, found := s.items.Get(testUPC)
	require.True(t, found)
	stale := v.(memoryItem)

	// a reader saw the stale item, then a writer refreshed the entry
	// before the reader evicted it
	clock.Advance(ttl + time.Minute)
	require.NoError(t, s.Put(t.Context(), testUPC, sampleRecord(testUPC, "Fresh")))
	s.evict(testUPC, stale)

	got, ok, err := s.Get(t.Context(), testUPC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fresh", got.Title)

	v, found = s.items.Get(testUPC)
	require.True(t, found)
	s.evict(testUPC, v.(memoryItem))
	_, ok, err = s.Get(t.Context(), testUPC)
	require.NoError(t, err)
	assert.False(t, ok, "evicting the current item removes it")
}

func ExampleMemoryStore() {
	s := NewMemoryStore(Options{TTL: time.Hour})
	_ = s.Put(context.Background(), "012993441012", &product.Record{UPC: "012993441012", Title: "Sparkling Water"})

	rec, ok, _ := s.Get(context.Background(), "012993441012")
	fmt.Println(ok, rec.Title)
	// Output: true Sparkling Water
}
