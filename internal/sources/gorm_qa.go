package sources

import (
	"context"
	"strings"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"

	"github.com/huangang/opsboard/internal/models"
)

const managerRole = "manager"

// GormQASource reads qa_submissions from the audit database. Accounts with
// the manager role in qa_users, plus any configured accounts, are excluded
// from technician figures.
type GormQASource struct {
	db               *gorm.DB
	excludedAccounts []string
}

func NewGormQASource(db *gorm.DB, excludedAccounts ...string) *GormQASource {
	return &GormQASource{db: db, excludedAccounts: excludedAccounts}
}

func (s *GormQASource) ID() string { return SourceQA }

func (s *GormQASource) Fetch(ctx context.Context, start, end civil.Date) ([]QAScanEvent, error) {
	if !validRange(start, end) {
		return nil, nil
	}

	exclusion, err := s.exclusion(ctx)
	if err != nil {
		return nil, err
	}

	var rows []models.QASubmission
	err = s.db.WithContext(ctx).
		Where("scan_date >= ? AND scan_date <= ?", start.String(), end.String()).
		Order("scanned_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, Unavailable(SourceQA, err)
	}

	events := make([]QAScanEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, QAScanEvent{
			Timestamp:  r.ScannedAt,
			Date:       recordDate(r.ScanDate, r.ScannedAt),
			Technician: strings.TrimSpace(r.Username),
			StockID:    strings.TrimSpace(r.StockID),
			Kind:       ParseSubmissionKind(r.Kind),
			Location:   r.Location,
		})
	}
	return exclusion.Apply(DedupQAScans(events)), nil
}

func (s *GormQASource) LatestDate(ctx context.Context) (civil.Date, bool, error) {
	return latestDate(ctx, s.db.Model(&models.QASubmission{}), "scan_date", SourceQA)
}

// Managers lists accounts whose role is manager.
func (s *GormQASource) Managers(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&models.QAUser{}).
		Where("LOWER(role) = ?", managerRole).
		Pluck("username", &names).Error
	if err != nil {
		return nil, Unavailable(SourceQA, err)
	}
	return names, nil
}

func (s *GormQASource) exclusion(ctx context.Context) (*ManagerExclusion, error) {
	managers, err := s.Managers(ctx)
	if err != nil {
		return nil, err
	}
	m := NewManagerExclusion(s.excludedAccounts...)
	m.Add(managers...)
	return m, nil
}
