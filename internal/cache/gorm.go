package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/product"
)

const slowQueryThreshold = 200 * time.Millisecond

// cachedProduct is the table row. StoredAt is written explicitly by the
// store's clock; gorm's CreatedAt convention would be skipped on upsert.
type cachedProduct struct {
	UPC      string    `gorm:"primaryKey;size:14"`
	Data     []byte    `gorm:"not null"`
	StoredAt time.Time `gorm:"index;not null"`
}

func (cachedProduct) TableName() string { return "cached_products" }

// GormStore keeps entries in a SQL table through gorm. Used for the sqlite
// and mysql backends.
type GormStore struct {
	db      *gorm.DB
	backend string
	ttl     time.Duration
	now     func() time.Time
	log     logger.Logger

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSQLiteStore opens (creating if needed) the sqlite database at path.
func NewSQLiteStore(ctx context.Context, path string, opts Options) (*GormStore, error) {
	opts.normalize()
	log := opts.Logger.Module("sqlite")

	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("cache").
				Category(errors.CategoryFileIO).
				Context("backend", "sqlite").
				FileContext(path, 0).
				Build()
		}
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, storeError(err, "sqlite", "open", "")
	}

	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn
	// and keeps :memory: databases on a single connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeError(err, "sqlite", "open", "")
	}
	sqlDB.SetMaxOpenConns(1)

	return newGormStore(ctx, db, "sqlite", opts, log)
}

// NewMySQLStore connects to a MySQL server. parseTime is forced on so
// StoredAt scans into time.Time.
func NewMySQLStore(ctx context.Context, dsn string, opts Options) (*GormStore, error) {
	opts.normalize()
	log := opts.Logger.Module("mysql")

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryConfiguration).
			Context("backend", "mysql").
			Build()
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}

	db, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, storeError(err, "mysql", "open", "")
	}

	return newGormStore(ctx, db, "mysql", opts, log)
}

func newGormStore(ctx context.Context, db *gorm.DB, backend string, opts Options, log logger.Logger) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&cachedProduct{}); err != nil {
		closeGorm(db)
		return nil, storeError(err, backend, "migrate", "")
	}

	now := opts.Now
	s := &GormStore{
		db:      db,
		backend: backend,
		ttl:     opts.TTL,
		// stored_at is compared in SQL; keep every value in UTC
		now:     func() time.Time { return now().UTC() },
		log:     log,
		stop:    make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(opts.SweepInterval)
	}

	return s, nil
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *GormStore) Backend() string { return s.backend }

func (s *GormStore) Get(ctx context.Context, upc string) (*product.Record, bool, error) {
	var row cachedProduct
	err := s.db.WithContext(ctx).Where("upc = ?", upc).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError(err, s.backend, "get", upc)
	}

	if (&product.Entry{CreatedAt: row.StoredAt}).Expired(s.now(), s.ttl) {
		_ = s.deleteIfUnchanged(ctx, upc, row.StoredAt)
		return nil, false, nil
	}

	entry, err := product.DecodeEntry(row.Data)
	if err != nil {
		s.log.Warn("dropping undecodable cache entry", logger.String("upc", upc), logger.Error(err))
		_ = s.deleteIfUnchanged(ctx, upc, row.StoredAt)
		return nil, false, nil
	}
	return entry.Record, true, nil
}

// Put upserts the row in a single statement so readers see either the old
// or the new record.
func (s *GormStore) Put(ctx context.Context, upc string, rec *product.Record) error {
	now := s.now()
	data, err := product.EncodeEntry(&product.Entry{Record: rec, CreatedAt: now})
	if err != nil {
		return err
	}

	row := cachedProduct{UPC: upc, Data: data, StoredAt: now}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "upc"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "stored_at"}),
	}).Create(&row).Error
	if err != nil {
		return storeError(err, s.backend, "put", upc)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, upc string) error {
	if err := s.db.WithContext(ctx).Where("upc = ?", upc).Delete(&cachedProduct{}).Error; err != nil {
		return storeError(err, s.backend, "delete", upc)
	}
	return nil
}

// deleteIfUnchanged removes the row only while it still carries storedAt,
// so an upsert that lands after the read survives.
func (s *GormStore) deleteIfUnchanged(ctx context.Context, upc string, storedAt time.Time) error {
	err := s.db.WithContext(ctx).
		Where("upc = ? AND stored_at = ?", upc, storedAt).
		Delete(&cachedProduct{}).Error
	if err != nil {
		return storeError(err, s.backend, "evict", upc)
	}
	return nil
}

func (s *GormStore) ListKeys(ctx context.Context) ([]string, error) {
	keys := []string{}
	if s.ttl <= 0 {
		return keys, nil
	}
	err := s.db.WithContext(ctx).
		Model(&cachedProduct{}).
		Where("stored_at >= ?", s.now().Add(-s.ttl)).
		Pluck("upc", &keys).Error
	if err != nil {
		return nil, storeError(err, s.backend, "list", "")
	}
	return keys, nil
}

// DeleteExpired removes every expired row and returns how many were removed.
func (s *GormStore) DeleteExpired(ctx context.Context) (int64, error) {
	q := s.db.WithContext(ctx)
	if s.ttl > 0 {
		q = q.Where("stored_at < ?", s.now().Add(-s.ttl))
	} else {
		q = q.Where("1 = 1")
	}
	result := q.Delete(&cachedProduct{})
	if result.Error != nil {
		return 0, storeError(result.Error, s.backend, "sweep", "")
	}
	return result.RowsAffected, nil
}

func (s *GormStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			removed, err := s.DeleteExpired(ctx)
			cancel()
			switch {
			case err != nil:
				s.log.Warn("expired entry sweep failed", logger.Error(err))
			case removed > 0:
				s.log.Debug("swept expired entries", logger.Int64("removed", removed))
			}
		}
	}
}

// Close stops the sweeper and closes the database.
func (s *GormStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}
