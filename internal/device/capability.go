// Package device defines the access-controller capability consumed by the
// synchronization orchestrator and its HTTP implementation.
package device

import (
	"context"
	"strings"

	"dormitory-access-backend/internal/model"
)

// Outcome summarises one operation across a set of devices. Reason is
// user-displayable text and is empty on success.
type Outcome struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Success is the outcome of a fully applied operation.
func Success() Outcome {
	return Outcome{OK: true}
}

// Failure builds a failed outcome.
func Failure(reason string) Outcome {
	return Outcome{OK: false, Reason: reason}
}

// Capability performs resident operations on physical devices. Each method
// covers every device in targets and reports one aggregate outcome.
type Capability interface {
	Enroll(ctx context.Context, targets []model.Device, residentID, fullName, photoPath string) Outcome
	Revoke(ctx context.Context, targets []model.Device, residentID string) Outcome
	Open(ctx context.Context, targets []model.Device, residentID string) Outcome
	Block(ctx context.Context, targets []model.Device, residentID string) Outcome
}

// combine folds per-device errors into one outcome.
func combine(failures []string) Outcome {
	if len(failures) == 0 {
		return Success()
	}
	return Failure(strings.Join(failures, "; "))
}
