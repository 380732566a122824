// Package orchestrator propagates resident lifecycle events to every
// access-control device of a dormitory.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"dormitory-access-backend/internal/device"
	"dormitory-access-backend/internal/model"
)

// Operation is a resident lifecycle event propagated to devices.
type Operation string

const (
	OpEnroll  Operation = "enroll"
	OpRevoke  Operation = "revoke"
	OpBlock   Operation = "block"
	OpUnblock Operation = "unblock"
)

// DefaultMaxPhotoBytes is the largest accepted enrollment photo (200 KiB).
const DefaultMaxPhotoBytes = 200 * 1024

// DefaultSweepInterval is the pause between residents in a bulk sweep.
const DefaultSweepInterval = 700 * time.Millisecond

// Config tunes the orchestrator.
type Config struct {
	SweepInterval time.Duration
	MaxPhotoBytes int
	// TempDir holds staged photos; empty means os.TempDir().
	TempDir string
}

// Request is the payload of one operation. Only Enroll reads FullName and Photo.
type Request struct {
	ResidentID string
	FullName   string
	Photo      []byte
}

// Orchestrator fans resident operations out to a dormitory's devices through
// a device.Capability. Calls are issued sequentially; a failure is returned to
// the caller without undoing changes already applied on other devices.
type Orchestrator struct {
	capability device.Capability
	cfg        Config
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the pause used between sweep calls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New creates an orchestrator over the given capability.
func New(capability device.Capability, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxPhotoBytes <= 0 {
		cfg.MaxPhotoBytes = DefaultMaxPhotoBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		capability: capability,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Apply runs op for one resident of dorm. It returns a *ValidationError when
// the payload is rejected and a *DeviceError when the capability fails.
func (o *Orchestrator) Apply(ctx context.Context, op Operation, dorm *model.Dormitory, req Request) error {
	if req.ResidentID == "" {
		return &ValidationError{Field: "residentId", Message: "resident id is required"}
	}

	var outcome device.Outcome
	switch op {
	case OpEnroll:
		if len(req.Photo) > o.cfg.MaxPhotoBytes {
			return &ValidationError{
				Field:   "photo",
				Message: fmt.Sprintf("photo is %d bytes, the limit is %d", len(req.Photo), o.cfg.MaxPhotoBytes),
			}
		}
		err := o.withStagedPhoto(req.Photo, func(path string) {
			outcome = o.capability.Enroll(ctx, dorm.EntranceDevices(), req.ResidentID, req.FullName, path)
		})
		if err != nil {
			return err
		}
	case OpRevoke:
		outcome = o.capability.Revoke(ctx, dorm.EntranceDevices(), req.ResidentID)
	case OpBlock:
		outcome = o.capability.Block(ctx, dorm.Devices, req.ResidentID)
	case OpUnblock:
		outcome = o.capability.Open(ctx, dorm.Devices, req.ResidentID)
	default:
		return &ValidationError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", op)}
	}

	if !outcome.OK {
		o.logger.Warn("device synchronization failed",
			zap.String("op", string(op)),
			zap.Int64("dormitory_id", dorm.ID),
			zap.String("resident_id", req.ResidentID),
			zap.String("reason", outcome.Reason),
		)
		return &DeviceError{Op: op, Reason: outcome.Reason}
	}
	o.logger.Info("device synchronization applied",
		zap.String("op", string(op)),
		zap.Int64("dormitory_id", dorm.ID),
		zap.String("resident_id", req.ResidentID),
	)
	return nil
}

// Enroll registers a resident on the dormitory's entrance devices.
func (o *Orchestrator) Enroll(ctx context.Context, dorm *model.Dormitory, residentID, fullName string, photo []byte) error {
	return o.Apply(ctx, OpEnroll, dorm, Request{ResidentID: residentID, FullName: fullName, Photo: photo})
}

// Revoke removes a resident from the dormitory's entrance devices.
func (o *Orchestrator) Revoke(ctx context.Context, dorm *model.Dormitory, residentID string) error {
	return o.Apply(ctx, OpRevoke, dorm, Request{ResidentID: residentID})
}

// Block disables a resident on every device of the dormitory.
func (o *Orchestrator) Block(ctx context.Context, dorm *model.Dormitory, residentID string) error {
	return o.Apply(ctx, OpBlock, dorm, Request{ResidentID: residentID})
}

// Unblock re-enables a resident on every device of the dormitory.
func (o *Orchestrator) Unblock(ctx context.Context, dorm *model.Dormitory, residentID string) error {
	return o.Apply(ctx, OpUnblock, dorm, Request{ResidentID: residentID})
}

// withStagedPhoto writes photo to a temporary file that exists only while fn
// runs. The file is removed on every exit path, panics included. An empty
// photo is passed as an empty path.
func (o *Orchestrator) withStagedPhoto(photo []byte, fn func(path string)) error {
	if len(photo) == 0 {
		fn("")
		return nil
	}

	f, err := os.CreateTemp(o.cfg.TempDir, "enroll-*.jpg")
	if err != nil {
		return fmt.Errorf("stage photo: %w", err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			o.logger.Error("failed to remove staged photo", zap.String("path", path), zap.Error(rmErr))
		}
	}()

	if _, err := f.Write(photo); err != nil {
		f.Close()
		return fmt.Errorf("stage photo: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("stage photo: %w", err)
	}

	fn(path)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
