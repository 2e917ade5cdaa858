// Package cache stores product records per UPC with a time-to-live. Every
// backend applies the expiry rule on read so an expired entry is never
// returned, regardless of when the physical entry is removed.
package cache

import (
	"context"
	"time"

	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/product"
)

// Store is the product cache. Implementations are safe for concurrent use
// and replace records whole on Put.
type Store interface {
	// Get returns the record for upc. Absent and expired entries report
	// ok=false with a nil error.
	Get(ctx context.Context, upc string) (rec *product.Record, ok bool, err error)
	// Put writes rec under upc and restarts its TTL window.
	Put(ctx context.Context, upc string, rec *product.Record) error
	// Delete removes the entry; deleting an unknown key is not an error.
	Delete(ctx context.Context, upc string) error
	// ListKeys returns the UPCs of all non-expired entries, unordered.
	ListKeys(ctx context.Context) ([]string, error)
	// Backend names the implementation for health output.
	Backend() string
	Close() error
}

// Options are shared by all backends.
type Options struct {
	TTL time.Duration
	// SweepInterval controls eager removal of expired entries where the
	// backend does not expire keys natively. Zero disables sweeping.
	SweepInterval time.Duration
	// Now is the clock used for TTL evaluation; nil means time.Now.
	Now    func() time.Time
	Logger logger.Logger
}

func (o *Options) normalize() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
}

// New opens the backend selected by settings.
func New(ctx context.Context, settings *conf.CacheSettings, log logger.Logger) (Store, error) {
	opts := Options{
		TTL:           settings.TTL(),
		SweepInterval: settings.SweepInterval,
		Logger:        log,
	}

	switch settings.Backend {
	case conf.CacheBackendMemory, "":
		return NewMemoryStore(opts), nil
	case conf.CacheBackendRedis:
		return NewRedisStore(ctx, settings.Redis.URL, settings.Redis.KeyPrefix, opts)
	case conf.CacheBackendSQLite:
		return NewSQLiteStore(ctx, settings.SQLite.Path, opts)
	case conf.CacheBackendMySQL:
		return NewMySQLStore(ctx, settings.MySQL.DSN, opts)
	default:
		return nil, errors.Newf("unknown cache backend %q", settings.Backend).
			Component("cache").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// storeError wraps a backend failure with the cache component and operation.
func storeError(err error, backend, operation, upc string) error {
	b := errors.New(err).
		Component("cache").
		Category(errors.CategoryCache).
		Context("backend", backend).
		Context("operation", operation)
	if upc != "" {
		b = b.Context("upc", upc)
	}
	return b.Build()
}
