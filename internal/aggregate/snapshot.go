package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"

	"github.com/huangang/opsboard/internal/models"
)

// SnapshotStore is the daily_stats cache of historical aggregations.
type SnapshotStore interface {
	Load(ctx context.Context, source string, start, end civil.Date) (*Aggregation, error)
	Replace(ctx context.Context, agg *Aggregation, start, end civil.Date, syncedAt time.Time) error
	LastSynced(ctx context.Context, source string) (time.Time, bool, error)
}

type GormSnapshotStore struct {
	db *gorm.DB
}

func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

// Load rebuilds an aggregation from stored rows. Days that were never synced
// are simply absent.
func (s *GormSnapshotStore) Load(ctx context.Context, source string, start, end civil.Date) (*Aggregation, error) {
	agg := New(source)
	if !start.IsValid() || !end.IsValid() || end.Before(start) {
		return agg, nil
	}

	var rows []models.DailyStat
	err := s.db.WithContext(ctx).
		Where("source = ? AND date >= ? AND date <= ?", source, start.String(), end.String()).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", source, err)
	}

	for _, r := range rows {
		d, err := civil.ParseDate(r.Date)
		if err != nil {
			continue
		}
		var last time.Time
		if r.LastActive != nil {
			last = *r.LastActive
		}
		agg.Add(d, r.EntityID, r.Category, r.Count, last)
		agg.AddFailed(d, r.Category, r.Failed)
	}
	return agg, nil
}

// Replace rewrites the stored rows for start..end with agg in a single
// transaction. Days in the range with no rows in agg end up empty.
func (s *GormSnapshotStore) Replace(ctx context.Context, agg *Aggregation, start, end civil.Date, syncedAt time.Time) error {
	if !start.IsValid() || !end.IsValid() || end.Before(start) {
		return nil
	}
	rows := snapshotRows(agg, start, end, syncedAt)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("source = ? AND date >= ? AND date <= ?", agg.Source(), start.String(), end.String()).
			Delete(&models.DailyStat{}).Error
		if err != nil {
			return fmt.Errorf("clear snapshot %s: %w", agg.Source(), err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("write snapshot %s: %w", agg.Source(), err)
		}
		return nil
	})
}

// LastSynced returns the most recent sync time recorded for source.
func (s *GormSnapshotStore) LastSynced(ctx context.Context, source string) (time.Time, bool, error) {
	var row models.DailyStat
	err := s.db.WithContext(ctx).
		Where("source = ?", source).
		Order("synced_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return row.SyncedAt, true, nil
}

// snapshotRows flattens agg for storage. Failed attempts ride on the
// unassigned row of their category.
func snapshotRows(agg *Aggregation, start, end civil.Date, syncedAt time.Time) []models.DailyStat {
	inRange := func(d civil.Date) bool { return !d.Before(start) && !d.After(end) }

	index := make(map[countKey]int)
	var rows []models.DailyStat
	row := func(k countKey) *models.DailyStat {
		if i, ok := index[k]; ok {
			return &rows[i]
		}
		rows = append(rows, models.DailyStat{
			Source:   agg.Source(),
			Date:     k.date.String(),
			EntityID: k.entity,
			Category: k.category,
			SyncedAt: syncedAt,
		})
		index[k] = len(rows) - 1
		return &rows[len(rows)-1]
	}

	for _, c := range agg.Counts() {
		if !inRange(c.Date) {
			continue
		}
		r := row(countKey{c.Date, c.EntityID, c.Category})
		r.Count = c.Count
		if ts, ok := agg.LastActiveOn(c.Date, c.EntityID); ok {
			ts := ts
			r.LastActive = &ts
		}
	}
	for _, f := range agg.FailedCounts() {
		if !inRange(f.Date) {
			continue
		}
		row(countKey{f.Date, "", f.Category}).Failed = f.Count
	}
	return rows
}
