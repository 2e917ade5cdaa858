package cache

import (
	"bytes"
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/product"
)

const (
	redisPingTimeout = 5 * time.Second
	redisScanCount   = 200
)

// RedisStore keeps entries under <prefix><upc> with a native expiry equal
// to the TTL, matching the key layout earlier deployments used.
type RedisStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
	log    logger.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string, opts Options) (*RedisStore, error) {
	ropts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryConfiguration).
			Context("backend", "redis").
			Build()
	}
	return NewRedisStoreWithClient(ctx, goredis.NewClient(ropts), prefix, opts)
}

// NewRedisStoreWithClient wraps an existing client. The store owns the
// client and closes it on Close.
func NewRedisStoreWithClient(ctx context.Context, client *goredis.Client, prefix string, opts Options) (*RedisStore, error) {
	opts.normalize()

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryNetwork).
			Context("backend", "redis").
			Context("operation", "ping").
			Build()
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
		now:    opts.Now,
		log:    opts.Logger.Module("redis"),
	}, nil
}

func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) key(upc string) string { return s.prefix + upc }

func (s *RedisStore) Get(ctx context.Context, upc string) (*product.Record, bool, error) {
	data, err := s.client.Get(ctx, s.key(upc)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError(err, "redis", "get", upc)
	}

	entry, err := product.DecodeEntry(data)
	if err != nil {
		s.log.Warn("dropping undecodable cache entry", logger.String("upc", upc), logger.Error(err))
		_ = s.deleteIfUnchanged(ctx, upc, data)
		return nil, false, nil
	}
	// the key's native expiry removes it; only hide it here
	if entry.Expired(s.now(), s.ttl) {
		return nil, false, nil
	}
	return entry.Record, true, nil
}

// Put replaces the value with SET EX. A non-positive TTL leaves nothing
// readable, so the key is removed instead.
func (s *RedisStore) Put(ctx context.Context, upc string, rec *product.Record) error {
	if s.ttl <= 0 {
		return s.Delete(ctx, upc)
	}
	data, err := product.EncodeEntry(&product.Entry{Record: rec, CreatedAt: s.now()})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(upc), data, s.ttl).Err(); err != nil {
		return storeError(err, "redis", "put", upc)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, upc string) error {
	if err := s.client.Del(ctx, s.key(upc)).Err(); err != nil {
		return storeError(err, "redis", "delete", upc)
	}
	return nil
}

// deleteIfUnchanged removes the key inside a WATCH transaction only while it
// still holds seen. A concurrent write aborts the transaction.
func (s *RedisStore) deleteIfUnchanged(ctx context.Context, upc string, seen []byte) error {
	key := s.key(upc)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, seen) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, goredis.TxFailedErr) {
		return storeError(err, "redis", "evict", upc)
	}
	return nil
}

// ListKeys scans <prefix>* and filters entries the clock considers expired.
func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, storeError(err, "redis", "scan", "")
	}

	now := s.now()
	upcs := make([]string, 0, len(keys))
	for start := 0; start < len(keys); start += redisScanCount {
		batch := keys[start:min(start+redisScanCount, len(keys))]
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, storeError(err, "redis", "mget", "")
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue // expired between SCAN and MGET
			}
			entry, err := product.DecodeEntry([]byte(raw))
			if err != nil || entry.Expired(now, s.ttl) {
				continue
			}
			upcs = append(upcs, batch[i][len(s.prefix):])
		}
	}
	return upcs, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
