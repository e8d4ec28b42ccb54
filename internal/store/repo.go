package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrInvalidReading marks a reading the store refuses to persist. The HTTP
// layer validates first, so hitting this means a non-HTTP caller slipped
// something malformed through.
var ErrInvalidReading = errors.New("invalid reading")

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Reading{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// InsertReading persists r, assigning its id and timestamp when absent.
// IDs are UUIDv7 so (ts, id) ordering preserves insertion order for readings
// that share a timestamp.
func (r *Repo) InsertReading(ctx context.Context, p *Reading) error {
	if !isFinite(p.Temperature) || !isFinite(p.Humidity) {
		return fmt.Errorf("%w: temperature and humidity must be finite numbers", ErrInvalidReading)
	}
	if p.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		p.ID = id
	}
	if p.DeviceID == "" {
		p.DeviceID = DefaultDeviceID
	}
	if p.TS.IsZero() {
		p.TS = time.Now().UTC()
	}
	if p.IngestedAt.IsZero() {
		p.IngestedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

// LatestReading returns the most recent non-expired reading, or nil when the
// store holds nothing inside the retention window.
func (r *Repo) LatestReading(ctx context.Context) (*Reading, error) {
	var row Reading
	err := r.db.WithContext(ctx).
		Where("ts > ?", retentionCutoff()).
		Order("ts DESC").Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RecentReadings returns up to limit non-expired readings in ascending time
// order. limit is defaulted to 50 and clamped to 500.
func (r *Repo) RecentReadings(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	var rows []Reading
	err := r.db.WithContext(ctx).
		Where("ts > ?", retentionCutoff()).
		Order("ts DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// Stored newest-first; consumers append chronologically.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *Repo) CountReadings(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Reading{}).
		Where("ts > ?", retentionCutoff()).
		Count(&n).Error
	return n, err
}

// StartRetentionSweep deletes expired rows every interval until ctx is done.
// Reads filter on the window themselves, so the sweep only bounds disk usage;
// its timing never affects what queries observe.
func (r *Repo) StartRetentionSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.SweepExpired(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("retention sweep failed", "error", err)
				}
			}
		}
	}()
}

func (r *Repo) SweepExpired(ctx context.Context) error {
	res := r.db.WithContext(ctx).
		Where("ts <= ?", retentionCutoff()).
		Delete(&Reading{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		slog.Debug("expired readings removed", "count", res.RowsAffected)
	}
	return nil
}

func retentionCutoff() time.Time {
	return time.Now().UTC().Add(-RetentionWindow)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
