package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"

	"github.com/huangang/opsboard/internal/aggregate"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/sources"
	"github.com/huangang/opsboard/pkg/logger"
)

const snapshotLockName = "snapshot_sync"

var ErrSyncInProgress = errors.New("snapshot sync already running")

type SnapshotSyncConfig struct {
	Cron         string
	LookbackDays int
	LockTTL      time.Duration
}

// SnapshotSyncService refreshes daily_stats from raw events. It never
// writes the current day, which is always served live.
type SnapshotSyncService struct {
	cfg      SnapshotSyncConfig
	erasure  sources.ErasureSource
	qa       sources.QASource
	store    aggregate.SnapshotStore
	locks    *SchedulerLockService
	resolver *period.Resolver
	activity *SystemLogService
	now      func() time.Time

	cronScheduler *cron.Cron

	mu      sync.Mutex
	lastRun *SyncResult
}

func NewSnapshotSyncService(
	cfg SnapshotSyncConfig,
	resolver *period.Resolver,
	erasure sources.ErasureSource,
	qa sources.QASource,
	store aggregate.SnapshotStore,
	locks *SchedulerLockService,
) *SnapshotSyncService {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &SnapshotSyncService{
		cfg:      cfg,
		erasure:  erasure,
		qa:       qa,
		store:    store,
		locks:    locks,
		resolver: resolver,
		now:      time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (s *SnapshotSyncService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SnapshotSyncService) SetActivityLog(activity *SystemLogService) {
	s.activity = activity
}

type SyncResult struct {
	Start    civil.Date        `json:"start_date"`
	End      civil.Date        `json:"end_date"`
	Skipped  bool              `json:"skipped"`
	Totals   map[string]int    `json:"totals"`
	Errors   map[string]string `json:"errors,omitempty"`
	SyncedAt time.Time         `json:"synced_at"`
}

func (s *SnapshotSyncService) StartScheduler() error {
	if s.cfg.Cron == "" {
		logger.Infof("[SnapshotSync] No cron expression, scheduler disabled")
		return nil
	}
	s.cronScheduler = cron.New()
	_, err := s.cronScheduler.AddFunc(s.cfg.Cron, func() {
		if _, err := s.SyncRecent(context.Background()); err != nil {
			logger.Warnf("[SnapshotSync] Scheduled sync failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("snapshot cron %q: %w", s.cfg.Cron, err)
	}
	s.cronScheduler.Start()
	logger.Infof("[SnapshotSync] Scheduler started (cron: %s, lookback: %d days)", s.cfg.Cron, s.cfg.LookbackDays)
	return nil
}

func (s *SnapshotSyncService) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

// SyncRecent refreshes the trailing lookback window ending yesterday.
func (s *SnapshotSyncService) SyncRecent(ctx context.Context) (*SyncResult, error) {
	yesterday := s.resolver.Today(s.now()).AddDays(-1)
	return s.SyncRange(ctx, yesterday.AddDays(-(s.cfg.LookbackDays - 1)), yesterday)
}

// SyncPeriod refreshes the historical part of p.
func (s *SnapshotSyncService) SyncPeriod(ctx context.Context, p period.Period) (*SyncResult, error) {
	if p.IsEmpty() {
		return &SyncResult{Skipped: true, Totals: map[string]int{}, SyncedAt: s.now()}, nil
	}
	return s.SyncRange(ctx, p.Start, p.End)
}

// SyncRange rewrites snapshot rows for start..end, clamped to end before
// today. A failing source is reported in the result and leaves its
// existing rows untouched.
func (s *SnapshotSyncService) SyncRange(ctx context.Context, start, end civil.Date) (*SyncResult, error) {
	now := s.now()
	yesterday := s.resolver.Today(now).AddDays(-1)
	if end.After(yesterday) {
		end = yesterday
	}
	result := &SyncResult{Start: start, End: end, Totals: map[string]int{}, SyncedAt: now}
	if end.Before(start) {
		result.Skipped = true
		return result, nil
	}

	lockKey := "all"
	if s.locks != nil {
		ok, err := s.locks.TryAcquire(ctx, snapshotLockName, lockKey, s.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire snapshot lock: %w", err)
		}
		if !ok {
			return nil, ErrSyncInProgress
		}
		defer func() {
			if err := s.locks.Release(context.Background(), snapshotLockName, lockKey); err != nil {
				logger.Warnf("[SnapshotSync] Failed to release lock: %v", err)
			}
		}()
	}

	for _, id := range []string{sources.SourceErasure, sources.SourceQA} {
		agg, err := fetchAggregation(ctx, s.erasure, s.qa, id, start, end)
		if err == nil {
			err = s.store.Replace(ctx, agg, start, end, now)
		}
		if err != nil {
			if result.Errors == nil {
				result.Errors = map[string]string{}
			}
			result.Errors[id] = err.Error()
			logger.Warnf("[SnapshotSync] %s %s..%s failed: %v", id, start, end, err)
			continue
		}
		result.Totals[id] = agg.Total()
	}

	logger.Infof("[SnapshotSync] Synced %s..%s totals=%v", start, end, result.Totals)
	msg := fmt.Sprintf("synced %s..%s", start, end)
	if len(result.Errors) > 0 {
		s.activity.Warning("snapshot_sync", "sync", msg+" with failed sources", result)
	} else {
		s.activity.Info("snapshot_sync", "sync", msg, result)
	}
	s.mu.Lock()
	s.lastRun = result
	s.mu.Unlock()
	return result, nil
}

// LastRun is the result of the latest completed sync in this process.
func (s *SnapshotSyncService) LastRun() (*SyncResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil, false
	}
	r := *s.lastRun
	return &r, true
}

type SyncStatus struct {
	LastRun    *SyncResult           `json:"last_run,omitempty"`
	LastSynced map[string]*time.Time `json:"last_synced"`
}

// Status reports the newest stored snapshot per source, which may have been
// written by another instance.
func (s *SnapshotSyncService) Status(ctx context.Context) (*SyncStatus, error) {
	status := &SyncStatus{LastSynced: map[string]*time.Time{}}
	if last, ok := s.LastRun(); ok {
		status.LastRun = last
	}
	for _, id := range []string{sources.SourceErasure, sources.SourceQA} {
		at, ok, err := s.store.LastSynced(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("last synced for %s: %w", id, err)
		}
		if ok {
			status.LastSynced[id] = &at
		} else {
			status.LastSynced[id] = nil
		}
	}
	return status, nil
}
