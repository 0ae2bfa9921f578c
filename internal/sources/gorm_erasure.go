package sources

import (
	"context"
	"database/sql"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"

	"github.com/huangang/opsboard/internal/models"
)

// GormErasureSource reads the erasures table.
type GormErasureSource struct {
	db *gorm.DB
}

func NewGormErasureSource(db *gorm.DB) *GormErasureSource {
	return &GormErasureSource{db: db}
}

func (s *GormErasureSource) ID() string { return SourceErasure }

func (s *GormErasureSource) Fetch(ctx context.Context, start, end civil.Date) ([]ErasureEvent, error) {
	if !validRange(start, end) {
		return nil, nil
	}

	var rows []models.ErasureRecord
	err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", start.String(), end.String()).
		Order("ts ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, Unavailable(SourceErasure, err)
	}

	events := make([]ErasureEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, erasureFromRecord(r))
	}
	return DedupErasures(events), nil
}

func (s *GormErasureSource) LatestDate(ctx context.Context) (civil.Date, bool, error) {
	return latestDate(ctx, s.db.Model(&models.ErasureRecord{}), "date", SourceErasure)
}

func erasureFromRecord(r models.ErasureRecord) ErasureEvent {
	return ErasureEvent{
		Timestamp:       r.Ts,
		Date:            recordDate(r.Date, r.Ts),
		Initials:        r.Initials,
		DeviceType:      r.DeviceType,
		Status:          ParseStatus(r.Event),
		DurationSeconds: r.DurationSec,
		ErrorType:       r.ErrorType,
		JobID:           r.JobID,
	}
}

// recordDate prefers the stored calendar date and falls back to the
// timestamp's date when the column is malformed.
func recordDate(raw string, ts time.Time) civil.Date {
	if d, err := civil.ParseDate(raw); err == nil {
		return d
	}
	return civil.DateOf(ts)
}

func latestDate(ctx context.Context, q *gorm.DB, column, sourceID string) (civil.Date, bool, error) {
	var latest sql.NullString
	row := q.WithContext(ctx).Select("MAX(" + column + ")").Row()
	if err := row.Scan(&latest); err != nil {
		return civil.Date{}, false, Unavailable(sourceID, err)
	}
	if !latest.Valid || latest.String == "" {
		return civil.Date{}, false, nil
	}
	d, err := civil.ParseDate(latest.String)
	if err != nil {
		return civil.Date{}, false, Unavailable(sourceID, err)
	}
	return d, true, nil
}
