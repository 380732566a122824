package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"dormitory-access-backend/internal/model"
)

// SweepFailure records one resident the sweep could not enroll.
type SweepFailure struct {
	ResidentID int64  `json:"residentId"`
	Reason     string `json:"reason"`
}

// SweepResult counts the outcome of a bulk enrollment.
type SweepResult struct {
	Succeeded int            `json:"successCount"`
	Failed    int            `json:"failedCount"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

// EnrollAll enrolls every non-deleted resident of dorm, one at a time, with a
// fixed pause between successive calls however fast each call returns.
// Individual failures are counted and never stop the sweep. Only context
// cancellation ends it early; the partial result is returned with ctx.Err().
func (o *Orchestrator) EnrollAll(ctx context.Context, dorm *model.Dormitory, residents []model.Resident) (SweepResult, error) {
	var result SweepResult
	issued := 0
	for i := range residents {
		r := &residents[i]
		if r.Deleted {
			continue
		}
		if issued > 0 {
			if err := o.sleep(ctx, o.cfg.SweepInterval); err != nil {
				o.logger.Warn("device sweep interrupted",
					zap.Int64("dormitory_id", dorm.ID),
					zap.Int("succeeded", result.Succeeded),
					zap.Int("failed", result.Failed),
				)
				return result, err
			}
		}
		issued++

		if err := o.Enroll(ctx, dorm, r.DeviceID(), r.FullName(), r.Photo); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SweepFailure{ResidentID: r.ID, Reason: Reason(err)})
			continue
		}
		result.Succeeded++
	}

	o.logger.Info("device sweep finished",
		zap.Int64("dormitory_id", dorm.ID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}
