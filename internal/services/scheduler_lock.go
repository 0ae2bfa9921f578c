package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/opsboard/internal/models"
	"gorm.io/gorm"
)

// SchedulerLockService hands out expiring named leases backed by the
// scheduler_locks unique index, so only one instance runs a given job.
type SchedulerLockService struct {
	db    *gorm.DB
	owner string
	now   func() time.Time
}

func NewSchedulerLockService(db *gorm.DB) *SchedulerLockService {
	return &SchedulerLockService{db: db, owner: uuid.NewString(), now: time.Now}
}

func (s *SchedulerLockService) Owner() string { return s.owner }

// TryAcquire takes the lease for (name, key) if nobody holds an unexpired
// one. It reports false without error when another owner holds it.
func (s *SchedulerLockService) TryAcquire(ctx context.Context, name, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	db := s.db.WithContext(ctx)

	err := db.Where("lock_name = ? AND lock_key = ? AND expires_at < ?", name, key, now).
		Delete(&models.SchedulerLock{}).Error
	if err != nil {
		return false, err
	}

	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.owner,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.Create(&lock).Error; err != nil {
		var held int64
		if cerr := db.Model(&models.SchedulerLock{}).
			Where("lock_name = ? AND lock_key = ?", name, key).
			Count(&held).Error; cerr == nil && held > 0 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Release drops a lease held by this instance.
func (s *SchedulerLockService) Release(ctx context.Context, name, key string) error {
	return s.db.WithContext(ctx).
		Where("lock_name = ? AND lock_key = ? AND locked_by = ?", name, key, s.owner).
		Delete(&models.SchedulerLock{}).Error
}
