// Package statstore persists rolling Statistics snapshots so an operator
// can query historical compression ratios across restarts, supplementing
// kvm_pipeline.cpp's PiplineStatistics::Report (which only logs), grounded
// on deps/deps.go's *gorm.DB plumbing and
// helixml-helix's storage_postgres.go's gorm.Open/AutoMigrate shape.
package statstore

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kvmpipe/kvmpipe/internal/klog"
	"github.com/kvmpipe/kvmpipe/internal/stats"
)

var log = klog.New("StatStore")

// Report is one persisted row, derived from a stats.Snapshot plus the wall
// time it was recorded.
type Report struct {
	ID          uint `gorm:"primaryKey"`
	RecordedAt  time.Time
	InputFrames int64
	InputBytes  int64
	VideoFrames int64
	VideoBytes  int64
	Ratio       float64
}

// Store wraps a *gorm.DB dedicated to Report rows.
type Store struct {
	db *gorm.DB
}

// Open selects the gorm driver from dsn's scheme: a "postgres://" or
// "postgresql://" prefix opens gorm.io/driver/postgres; everything else
// (including a bare file path, matching sqlite's historical convention) opens
// gorm.io/driver/sqlite.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open statstore database: %w", err)
	}
	if err := db.AutoMigrate(&Report{}); err != nil {
		return nil, fmt.Errorf("automigrate statstore schema: %w", err)
	}

	log.Info("statstore ready (dsn=%s)", dsn)
	return &Store{db: db}, nil
}

// Persist writes one report row derived from snap, timestamped now.
func (s *Store) Persist(snap stats.Snapshot, now time.Time) error {
	row := Report{
		RecordedAt:  now,
		InputFrames: snap.InputFrames,
		InputBytes:  snap.InputBytes,
		VideoFrames: snap.VideoFrames,
		VideoBytes:  snap.VideoBytes,
		Ratio:       snap.Ratio,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("persist statistics report: %w", err)
	}
	return nil
}

// Recent returns the most recently recorded reports, newest first, up to
// limit rows.
func (s *Store) Recent(limit int) ([]Report, error) {
	var rows []Report
	if err := s.db.Order("recorded_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query recent statistics reports: %w", err)
	}
	return rows, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
