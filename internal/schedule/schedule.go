// Package schedule runs the periodic device re-synchronization sweep.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dormitory-access-backend/internal/model"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/store"
)

// DormitoryLister lists the dormitories to sweep.
type DormitoryLister interface {
	ListDormitories(ctx context.Context, scope store.Scope) ([]model.Dormitory, error)
}

// Syncer re-enrolls the residents of one dormitory.
type Syncer interface {
	SyncDormitory(ctx context.Context, scope store.Scope, dormID int64) (orchestrator.SweepResult, error)
}

// Report sums one sweep across every dormitory.
type Report struct {
	Dormitories int `json:"dormitories"`
	Succeeded   int `json:"successCount"`
	Failed      int `json:"failedCount"`
	Errors      int `json:"errors"`
}

// Service triggers SweepOnce on a cron schedule.
type Service struct {
	spec  string
	dorms DormitoryLister
	sync  Syncer
	log   *zap.Logger
}

// NewService validates spec and returns the scheduler. An empty spec yields a
// scheduler whose Run returns immediately.
func NewService(spec string, dorms DormitoryLister, sync Syncer, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
		}
	}
	return &Service{spec: spec, dorms: dorms, sync: sync, log: log}, nil
}

// Run blocks until ctx is done, running a sweep at every scheduled time. A
// sweep still in progress causes the next tick to be skipped.
func (s *Service) Run(ctx context.Context) {
	if s.spec == "" {
		s.log.Info("scheduled sync is disabled")
		return
	}
	cronLog := cron.PrintfLogger(zap.NewStdLog(s.log.Named("cron")))
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(s.spec, func() { s.SweepOnce(ctx) }); err != nil {
		s.log.Error("failed to schedule sync", zap.Error(err))
		return
	}

	s.log.Info("starting scheduled sync", zap.String("schedule", s.spec))
	c.Start()
	<-ctx.Done()
	s.log.Info("scheduled sync shutting down")
	<-c.Stop().Done()
}

// SweepOnce re-enrolls the residents of every dormitory in turn. A failing
// dormitory is logged and the sweep moves on.
func (s *Service) SweepOnce(ctx context.Context) Report {
	var report Report
	dorms, err := s.dorms.ListDormitories(ctx, store.Admin)
	if err != nil {
		s.log.Error("failed to list dormitories for sync", zap.Error(err))
		report.Errors++
		return report
	}

	for _, d := range dorms {
		if ctx.Err() != nil {
			break
		}
		result, err := s.sync.SyncDormitory(ctx, store.Admin, d.ID)
		report.Dormitories++
		report.Succeeded += result.Succeeded
		report.Failed += result.Failed
		if err != nil {
			report.Errors++
			s.log.Warn("dormitory sync ended early", zap.Int64("dormitory_id", d.ID), zap.Error(err))
		}
	}

	s.log.Info("scheduled sync finished",
		zap.Int("dormitories", report.Dormitories),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report
}
