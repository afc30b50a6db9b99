package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// SQLite caps bound parameters per statement, keep IN lists below it
	maxInParams = 500
)

// Database wraps the gorm connection
type Database struct {
	db     *gorm.DB
	driver string
}

// NewDatabase opens the database, applies the schema and seeds one sync
// state row per category
func NewDatabase(driver, dsn string) (*Database, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		dialector = sqlite.Open(sqliteDSN(dsn))
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gdb.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	if driver == DriverSQLite {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		// Single writer to avoid SQLITE_BUSY under WAL
		sqlDB.SetMaxOpenConns(1)
	}

	db := &Database{db: gdb, driver: driver}
	if err := db.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

// migrate creates the tables and seeds the sync state rows
func (db *Database) migrate() error {
	for _, cat := range Categories {
		table := cat.TableName()
		if err := db.db.Table(table).AutoMigrate(&Torrent{}); err != nil {
			return fmt.Errorf("migrating %s: %w", table, err)
		}
		// Index names are global in both SQLite and Postgres, so they are
		// created per table instead of through struct tags
		for _, col := range []string{"uploaded_at", "hash"} {
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, col, table, col)
			if err := db.db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("indexing %s.%s: %w", table, col, err)
			}
		}
	}

	if err := db.db.AutoMigrate(&SyncState{}); err != nil {
		return fmt.Errorf("migrating sync_state: %w", err)
	}

	for _, cat := range Categories {
		var state SyncState
		if err := db.db.Where(SyncState{Category: cat}).FirstOrCreate(&state).Error; err != nil {
			return fmt.Errorf("seeding sync state for %s: %w", cat, err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *Database) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns the configured driver name
func (db *Database) Driver() string {
	return db.driver
}

// Torrent operations

// UpsertTorrent inserts the torrent or updates its mutable fields in a
// single statement. ScrapedAt is only written on insert.
func (db *Database) UpsertTorrent(ctx context.Context, cat Category, t *Torrent) error {
	return db.upsert(ctx, cat, t, mutableColumns)
}

// UpsertSummary stores the listing fields of a torrent whose detail could not
// be fetched. An existing hash and description are kept, so a row that was
// detailed once stays detailed.
func (db *Database) UpsertSummary(ctx context.Context, cat Category, t *Torrent) error {
	return db.upsert(ctx, cat, t, summaryColumns)
}

func (db *Database) upsert(ctx context.Context, cat Category, t *Torrent, columns []string) error {
	if t.ScrapedAt.IsZero() {
		t.ScrapedAt = time.Now().UTC()
	}

	err := db.db.WithContext(ctx).
		Table(cat.TableName()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(t).Error
	if err != nil {
		return fmt.Errorf("%w: upserting %s torrent %d: %w", ErrStoreWrite, cat, t.ID, err)
	}
	return nil
}

// GetTorrent retrieves a torrent by ID
func (db *Database) GetTorrent(ctx context.Context, cat Category, id int64) (*Torrent, error) {
	var t Torrent
	err := db.db.WithContext(ctx).Table(cat.TableName()).Where("id = ?", id).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DetailedIDs reports which of the given IDs are already stored with a hash
func (db *Database) DetailedIDs(ctx context.Context, cat Category, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))

		var chunk []int64
		err := db.db.WithContext(ctx).
			Table(cat.TableName()).
			Where("id IN ? AND hash IS NOT NULL AND hash <> ''", ids[start:end]).
			Pluck("id", &chunk).Error
		if err != nil {
			return nil, fmt.Errorf("looking up detailed %s torrents: %w", cat, err)
		}
		for _, id := range chunk {
			found[id] = true
		}
	}
	return found, nil
}

// ListTorrents returns a page of torrents, most recent upload first, along
// with the total count for the category
func (db *Database) ListTorrents(ctx context.Context, cat Category, limit, offset int) ([]Torrent, int64, error) {
	total, err := db.CountTorrents(ctx, cat)
	if err != nil {
		return nil, 0, err
	}

	var torrents []Torrent
	err = db.db.WithContext(ctx).
		Table(cat.TableName()).
		Order("uploaded_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&torrents).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing %s torrents: %w", cat, err)
	}
	return torrents, total, nil
}

// EachTorrent calls fn with successive batches of torrents ordered by ID
func (db *Database) EachTorrent(ctx context.Context, cat Category, batchSize int, fn func([]Torrent) error) error {
	var batch []Torrent
	res := db.db.WithContext(ctx).
		Table(cat.TableName()).
		Order("id").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		})
	return res.Error
}

// CountTorrents returns the number of torrents stored for a category
func (db *Database) CountTorrents(ctx context.Context, cat Category) (int64, error) {
	var count int64
	if err := db.db.WithContext(ctx).Table(cat.TableName()).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting %s torrents: %w", cat, err)
	}
	return count, nil
}

// Counts returns the number of torrents per category
func (db *Database) Counts(ctx context.Context) (map[Category]int64, error) {
	counts := make(map[Category]int64, len(Categories))
	for _, cat := range Categories {
		n, err := db.CountTorrents(ctx, cat)
		if err != nil {
			return nil, err
		}
		counts[cat] = n
	}
	return counts, nil
}

// Sync state operations

// GetSyncState retrieves the sync state of a category, creating the
// default row if it is missing
func (db *Database) GetSyncState(ctx context.Context, cat Category) (*SyncState, error) {
	var state SyncState
	if err := db.db.WithContext(ctx).Where(SyncState{Category: cat}).FirstOrCreate(&state).Error; err != nil {
		return nil, fmt.Errorf("loading sync state for %s: %w", cat, err)
	}
	return &state, nil
}

// ListSyncStates returns every sync state row
func (db *Database) ListSyncStates(ctx context.Context) ([]SyncState, error) {
	var states []SyncState
	if err := db.db.WithContext(ctx).Order("id").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("listing sync states: %w", err)
	}
	return states, nil
}

// SaveCheckpoint records the outcome of a successful pass. LastKnownID
// never moves backwards and the initial flag is never cleared here.
func (db *Database) SaveCheckpoint(ctx context.Context, cat Category, cp Checkpoint) (*SyncState, error) {
	var state SyncState
	err := db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(SyncState{Category: cat}).FirstOrCreate(&state).Error; err != nil {
			return err
		}

		if cp.LastKnownID > state.LastKnownID {
			state.LastKnownID = cp.LastKnownID
		}
		scrapedAt := cp.ScrapedAt.UTC()
		state.LastScrapeTime = &scrapedAt
		if cp.MarkInitial {
			state.InitialScrapeCompleted = true
		}

		return tx.Save(&state).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: saving %s checkpoint: %w", ErrStoreWrite, cat, err)
	}
	return &state, nil
}

// ResetSyncState puts a category back into its never-synced state.
// Stored torrents are kept.
func (db *Database) ResetSyncState(ctx context.Context, cat Category) error {
	err := db.db.WithContext(ctx).
		Model(&SyncState{}).
		Where("category = ?", cat).
		Updates(map[string]any{
			"last_known_id":            0,
			"last_scrape_time":         nil,
			"initial_scrape_completed": false,
		}).Error
	if err != nil {
		return fmt.Errorf("%w: resetting %s sync state: %w", ErrStoreWrite, cat, err)
	}
	return nil
}
