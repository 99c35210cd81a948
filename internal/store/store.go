package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keel/internal/position"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TradeOutcomeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for HTTP reads, low lock contention.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// RecordCycleResults persists the outcomes worth auditing from one cycle:
// closes, scale-outs, and per-symbol errors. Held and routine-skip results
// are not stored.
func (s *Store) RecordCycleResults(ctx context.Context, results []position.CycleResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	now := time.Now().UnixMilli()
	var rows []TradeOutcomeModel
	for _, r := range results {
		switch r.Outcome {
		case position.OutcomeClosed, position.OutcomeScaled, position.OutcomeError:
		default:
			continue
		}
		row := TradeOutcomeModel{
			Symbol:    r.Symbol,
			Side:      string(r.Position.Side),
			Outcome:   string(r.Outcome),
			Reason:    r.Reason,
			Move:      float64(r.Move),
			ROI:       float64(r.ROI),
			Amount:    r.Position.Amount,
			Leverage:  r.Position.Leverage,
			CreatedAt: now,
		}
		if r.Err != nil {
			if raw, err := json.Marshal(map[string]string{"error": r.Err.Error()}); err == nil {
				row.Detail = raw
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// RecentOutcomes returns the newest recorded outcomes, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]TradeOutcomeModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []TradeOutcomeModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
