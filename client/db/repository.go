// Package db persists the local listen journal and the player snapshot
// in SQLite through gorm.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/velichkin/wavefm/client"
)

// Repository provides access to the local history database.
type Repository struct {
	db *gorm.DB
}

// NewSQLiteRepository creates a repository backed by SQLite.
func NewSQLiteRepository(dsn string, gormLogger logger.Interface) (*Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn required")
	}

	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	dbDir := filepath.Dir(dsn)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&PlayEventModel{}, &PlayerSnapshotModel{}); err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db}, nil
}

// ConfigurePool updates the database connection pool settings.
func (r *Repository) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if maxOpen >= 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime >= 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// RecordPlay appends one listen to the journal. Re-inserting the same
// event id is a no-op.
func (r *Repository) RecordPlay(ctx context.Context, event client.PlayEvent) error {
	if event.ID == "" || event.TrackID == "" {
		return errors.New("event id and track id required")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(eventToModel(event)).Error
}

// LastPlayedAt returns when the user last played the track, or nil when
// the journal has no entry for the pair.
func (r *Repository) LastPlayedAt(ctx context.Context, userID, trackID string) (*time.Time, error) {
	var model PlayEventModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND track_id = ?", userID, trackID).
		Order("played_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	playedAt := model.PlayedAt
	return &playedAt, nil
}

// SaveSnapshot upserts the single player snapshot row.
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot client.PlayerSnapshot) error {
	model := snapshotToModel(snapshot)
	if model.SavedAt.IsZero() {
		model.SavedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"queue_ids", "current_track_id", "position",
				"volume", "repeat", "shuffle", "saved_at", "updated_at",
			}),
		}).
		Create(model).Error
}

// LoadSnapshot returns the persisted snapshot, or nil when none exists.
func (r *Repository) LoadSnapshot(ctx context.Context) (*client.PlayerSnapshot, error) {
	var model PlayerSnapshotModel
	err := r.db.WithContext(ctx).Where("key = ?", snapshotKey).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshotToInternal(model), nil
}

// PlayCount reports how many journal entries exist for the user.
func (r *Repository) PlayCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PlayEventModel{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ client.HistoryRepository = (*Repository)(nil)

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-64000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, stmt := range pragmas {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
