// Package store persists numduel rooms with gorm. Every mutation is a single
// UPDATE or DELETE whose WHERE clause carries the caller's condition, so a
// lost race shows up as zero rows affected.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/icco/numduel"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

// Store implements numduel.Store and numduel.StatsRecorder.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ numduel.Store         = (*Store)(nil)
	_ numduel.StatsRecorder = (*Store)(nil)
)

// Open connects to dsn, which is either a postgres URL or a sqlite path, and
// runs migrations.
func Open(dsn string, zl *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	gl := zapgorm2.New(zl)
	gl.LogLevel = gormlogger.Warn
	gl.SlowThreshold = 200 * time.Millisecond
	gl.IgnoreRecordNotFoundError = true
	gl.SetAsDefault()

	config := &gorm.Config{
		Logger:         gl,
		TranslateError: true,
	}

	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, err
	}

	if !isPostgres {
		// sqlite has a single writer, and each :memory: connection is its
		// own database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run auto-migration: %w", err)
	}

	return db, nil
}

// New wraps an open database.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Insert persists a new room.
func (s *Store) Insert(ctx context.Context, room *numduel.Room) error {
	row := toRow(room)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", numduel.ErrCodeCollision, room.Code)
		}
		return fmt.Errorf("insert room %s: %w", room.Code, err)
	}
	room.Version = row.Version
	return nil
}

// Get loads a room by code.
func (s *Store) Get(ctx context.Context, code string) (*numduel.Room, error) {
	var row GameRoom
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, numduel.ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room %s: %w", code, err)
	}
	return row.toRoom(), nil
}

// Update writes room in full when cond matches.
func (s *Store) Update(ctx context.Context, room *numduel.Room, cond numduel.Condition) (bool, error) {
	row := toRow(room)
	result := s.conditioned(ctx, room.Code, cond).Model(&GameRoom{}).Updates(row.assignments())
	if result.Error != nil {
		return false, fmt.Errorf("update room %s: %w", room.Code, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	room.Version = cond.Version + 1
	return true, nil
}

// Delete removes a room when cond matches.
func (s *Store) Delete(ctx context.Context, code string, cond numduel.Condition) (bool, error) {
	result := s.conditioned(ctx, code, cond).Delete(&GameRoom{})
	if result.Error != nil {
		return false, fmt.Errorf("delete room %s: %w", code, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteAbandoned removes rooms created before cutoff that never got both
// secrets set.
func (s *Store) DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("game_started = ? AND created_at < ?", false, cutoff).
		Where("player1_ready = ? OR player2_ready = ?", false, false).
		Delete(&GameRoom{})
	return result.RowsAffected, result.Error
}

func (s *Store) conditioned(ctx context.Context, code string, cond numduel.Condition) *gorm.DB {
	q := s.db.WithContext(ctx).Where("code = ? AND version = ?", code, cond.Version)
	if cond.ActivePlayer.Valid() {
		q = q.Where("current_turn_player = ?", int(cond.ActivePlayer))
	}
	if cond.WinnerUnset {
		q = q.Where("winner = ?", string(numduel.WinnerUnset))
	}
	if cond.NotStarted {
		q = q.Where("game_started = ?", false)
	}
	if cond.Player2Unset {
		q = q.Where("player2_id = ?", "")
	}
	return q
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "duplicate") || strings.Contains(errStr, "unique")
}
