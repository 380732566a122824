// Package resident drives the resident lifecycle: records change only after
// the dormitory's devices have accepted the matching operation.
package resident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dormitory-access-backend/internal/model"
	"dormitory-access-backend/internal/notification"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/store"
)

// Synchronizer is the device fan-out the service depends on.
type Synchronizer interface {
	Enroll(ctx context.Context, dorm *model.Dormitory, residentID, fullName string, photo []byte) error
	Revoke(ctx context.Context, dorm *model.Dormitory, residentID string) error
	Block(ctx context.Context, dorm *model.Dormitory, residentID string) error
	Unblock(ctx context.Context, dorm *model.Dormitory, residentID string) error
	EnrollAll(ctx context.Context, dorm *model.Dormitory, residents []model.Resident) (orchestrator.SweepResult, error)
}

// Alerter receives device synchronization failures.
type Alerter interface {
	Dispatch(alert notification.Alert)
}

// Clock returns the current time.
type Clock func() time.Time

// CreateInput is a new resident registration.
type CreateInput struct {
	DormitoryID int64
	RoomID      *int64
	FirstName   string
	LastName    string
	Faculty     string
	Phone       string
	ArrivalDate *time.Time
	PaidTotal   int64
	Photo       []byte
}

// UpdateInput edits a resident's record. Nil fields are kept; a RoomID of 0
// moves the resident out of their room and ClearCheckout removes the
// checkout date.
type UpdateInput struct {
	RoomID        *int64
	FirstName     *string
	LastName      *string
	Faculty       *string
	Phone         *string
	ArrivalDate   *time.Time
	CheckoutDate  *time.Time
	ClearCheckout bool
	PaidTotal     *int64
}

// Service implements resident lifecycle operations.
type Service struct {
	store         store.Store
	sync          Synchronizer
	alerts        Alerter
	now           Clock
	maxPhotoBytes int
	locks         *keyedMutex
	log           *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the clock used for arrival and checkout dates.
func WithClock(c Clock) Option {
	return func(s *Service) { s.now = c }
}

// WithAlerter sends failures to a.
func WithAlerter(a Alerter) Option {
	return func(s *Service) { s.alerts = a }
}

// WithMaxPhotoBytes sets the accepted photo size.
func WithMaxPhotoBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPhotoBytes = n
		}
	}
}

// NewService creates a resident service.
func NewService(st store.Store, sync Synchronizer, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:         st,
		sync:          sync,
		now:           time.Now,
		maxPhotoBytes: orchestrator.DefaultMaxPhotoBytes,
		locks:         newKeyedMutex(),
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) alert(dormID int64, op orchestrator.Operation, residentID int64, err error) {
	if s.alerts == nil {
		return
	}
	var devErr *orchestrator.DeviceError
	if !errors.As(err, &devErr) {
		return
	}
	s.alerts.Dispatch(notification.Alert{
		DormitoryID: dormID,
		Operation:   string(op),
		ResidentID:  residentID,
		Reason:      devErr.Reason,
	})
}

func (in *CreateInput) validate(maxPhoto int) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	switch {
	case in.FirstName == "":
		return &orchestrator.ValidationError{Field: "firstName", Message: "first name is required"}
	case in.LastName == "":
		return &orchestrator.ValidationError{Field: "lastName", Message: "last name is required"}
	case in.DormitoryID == 0:
		return &orchestrator.ValidationError{Field: "dormitoryId", Message: "dormitory is required"}
	case len(in.Photo) == 0:
		return &orchestrator.ValidationError{Field: "photo", Message: "photo is required"}
	case len(in.Photo) > maxPhoto:
		return &orchestrator.ValidationError{
			Field:   "photo",
			Message: fmt.Sprintf("photo is %d bytes, the limit is %d", len(in.Photo), maxPhoto),
		}
	case in.PaidTotal < 0:
		return &orchestrator.ValidationError{Field: "paidTotal", Message: "paid total must not be negative"}
	}
	return nil
}

// Create registers a resident and enrolls them on the dormitory's entrance
// devices. When enrollment fails the new record is discarded.
func (s *Service) Create(ctx context.Context, scope store.Scope, in CreateInput) (*model.Resident, error) {
	if err := in.validate(s.maxPhotoBytes); err != nil {
		return nil, err
	}

	dorm, err := s.store.GetDormitory(ctx, scope, in.DormitoryID)
	if err != nil {
		return nil, err
	}
	if in.RoomID != nil {
		room, err := s.store.GetRoom(ctx, *in.RoomID)
		if err != nil {
			return nil, err
		}
		if room.DormitoryID != dorm.ID {
			return nil, &orchestrator.ValidationError{Field: "roomId", Message: "room belongs to another dormitory"}
		}
		if room.FreeSlots() == 0 {
			return nil, &orchestrator.ValidationError{
				Field:   "roomId",
				Message: fmt.Sprintf("room %s is full (%d/%d)", room.Number, room.Occupied, room.Size),
			}
		}
	}

	arrival := in.ArrivalDate
	if arrival == nil {
		t := s.today()
		arrival = &t
	}
	r := &model.Resident{
		DormitoryID: dorm.ID,
		RoomID:      in.RoomID,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Faculty:     in.Faculty,
		Phone:       in.Phone,
		ArrivalDate: arrival,
		PaidTotal:   in.PaidTotal,
		Photo:       in.Photo,
	}
	if err := s.store.CreateResident(ctx, r); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(r.ID)
	defer unlock()

	if err := s.sync.Enroll(ctx, dorm, r.DeviceID(), r.FullName(), r.Photo); err != nil {
		// The caller may have gone away while devices were busy; the discard
		// still has to land.
		if delErr := s.store.DeleteResident(context.WithoutCancel(ctx), r.ID); delErr != nil {
			s.log.Error("failed to discard resident after enrollment failure",
				zap.Int64("resident_id", r.ID), zap.Error(delErr))
		}
		s.alert(dorm.ID, orchestrator.OpEnroll, r.ID, err)
		return nil, err
	}

	s.log.Info("resident created", zap.Int64("resident_id", r.ID), zap.Int64("dormitory_id", dorm.ID))
	r.Photo = nil
	return r, nil
}

// load fetches an active resident and its dormitory with devices.
func (s *Service) load(ctx context.Context, scope store.Scope, id int64) (*model.Resident, *model.Dormitory, error) {
	r, err := s.store.GetResident(ctx, scope, id)
	if err != nil {
		return nil, nil, err
	}
	if r.Deleted {
		return nil, nil, &orchestrator.ValidationError{Field: "id", Message: fmt.Sprintf("resident %d is already deleted", id)}
	}
	dorm, err := s.store.GetDormitory(ctx, store.Admin, r.DormitoryID)
	if err != nil {
		return nil, nil, err
	}
	return r, dorm, nil
}

// Delete revokes a resident from the entrance devices and, only once that
// succeeds, marks the record deleted and frees its room.
func (s *Service) Delete(ctx context.Context, scope store.Scope, id int64, actor string) (*model.Resident, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, dorm, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	if err := s.sync.Revoke(ctx, dorm, r.DeviceID()); err != nil {
		s.alert(dorm.ID, orchestrator.OpRevoke, r.ID, err)
		return nil, err
	}

	checkout := s.today()
	r.Deleted = true
	r.CheckoutDate = &checkout
	r.RoomID = nil
	r.DeletedBy = actor
	// Devices no longer know the resident, so the record must follow even if
	// the request was cancelled meanwhile.
	if err := s.store.UpdateResident(context.WithoutCancel(ctx), r, "Deleted", "CheckoutDate", "RoomID", "DeletedBy"); err != nil {
		return nil, err
	}
	s.log.Info("resident deleted", zap.Int64("resident_id", r.ID), zap.String("actor", actor))
	return r, nil
}

// ToggleBlock blocks an unblocked resident on every device of the dormitory,
// or unblocks a blocked one. The flag changes only when the devices agree.
func (s *Service) ToggleBlock(ctx context.Context, scope store.Scope, id int64) (*model.Resident, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, dorm, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	op, apply := orchestrator.OpBlock, s.sync.Block
	if r.Blocked {
		op, apply = orchestrator.OpUnblock, s.sync.Unblock
	}
	if err := apply(ctx, dorm, r.DeviceID()); err != nil {
		s.alert(dorm.ID, op, r.ID, err)
		return nil, err
	}

	r.Blocked = !r.Blocked
	if err := s.store.UpdateResident(ctx, r, "Blocked"); err != nil {
		return nil, err
	}
	return r, nil
}

// Update edits a resident's record: room, names, contact, tenancy dates and
// paid total. Devices are not contacted, so the name they show is the one
// registered at enrollment.
func (s *Service) Update(ctx context.Context, scope store.Scope, id int64, in UpdateInput) (*model.Resident, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.store.GetResident(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	var fields []string
	for _, f := range []struct {
		name, column string
		value        *string
		dst          *string
	}{
		{"firstName", "FirstName", in.FirstName, &r.FirstName},
		{"lastName", "LastName", in.LastName, &r.LastName},
	} {
		if f.value == nil {
			continue
		}
		v := strings.TrimSpace(*f.value)
		if v == "" {
			return nil, &orchestrator.ValidationError{Field: f.name, Message: f.name + " must not be empty"}
		}
		*f.dst = v
		fields = append(fields, f.column)
	}
	if in.Faculty != nil {
		r.Faculty = strings.TrimSpace(*in.Faculty)
		fields = append(fields, "Faculty")
	}
	if in.Phone != nil {
		r.Phone = strings.TrimSpace(*in.Phone)
		fields = append(fields, "Phone")
	}
	if in.PaidTotal != nil {
		if *in.PaidTotal < 0 {
			return nil, &orchestrator.ValidationError{Field: "paidTotal", Message: "paid total must not be negative"}
		}
		r.PaidTotal = *in.PaidTotal
		fields = append(fields, "PaidTotal")
	}
	if in.ArrivalDate != nil {
		r.ArrivalDate = in.ArrivalDate
		fields = append(fields, "ArrivalDate")
	}
	switch {
	case in.ClearCheckout:
		r.CheckoutDate = nil
		fields = append(fields, "CheckoutDate")
	case in.CheckoutDate != nil:
		r.CheckoutDate = in.CheckoutDate
		fields = append(fields, "CheckoutDate")
	}
	if r.ArrivalDate != nil && r.CheckoutDate != nil && r.CheckoutDate.Before(*r.ArrivalDate) {
		return nil, &orchestrator.ValidationError{Field: "checkoutDate", Message: "checkout date is before arrival date"}
	}

	if in.RoomID != nil {
		if err := s.assignRoom(ctx, r, *in.RoomID); err != nil {
			return nil, err
		}
		fields = append(fields, "RoomID")
	}

	if len(fields) == 0 {
		return r, nil
	}
	if err := s.store.UpdateResident(ctx, r, fields...); err != nil {
		return nil, err
	}
	s.log.Info("resident updated", zap.Int64("resident_id", r.ID), zap.Strings("fields", fields))
	return r, nil
}

// assignRoom points r at roomID, or at no room when roomID is 0.
func (s *Service) assignRoom(ctx context.Context, r *model.Resident, roomID int64) error {
	if roomID == 0 {
		r.RoomID = nil
		return nil
	}
	if r.Deleted {
		return &orchestrator.ValidationError{Field: "roomId", Message: "deleted residents cannot hold a room"}
	}
	if r.RoomID != nil && *r.RoomID == roomID {
		return nil
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.DormitoryID != r.DormitoryID {
		return &orchestrator.ValidationError{Field: "roomId", Message: "room belongs to another dormitory"}
	}
	if room.FreeSlots() == 0 {
		return &orchestrator.ValidationError{
			Field:   "roomId",
			Message: fmt.Sprintf("room %s is full (%d/%d)", room.Number, room.Occupied, room.Size),
		}
	}
	r.RoomID = &roomID
	return nil
}

// SyncDormitory re-enrolls every active resident of a dormitory.
func (s *Service) SyncDormitory(ctx context.Context, scope store.Scope, dormID int64) (orchestrator.SweepResult, error) {
	dorm, err := s.store.GetDormitory(ctx, scope, dormID)
	if err != nil {
		return orchestrator.SweepResult{}, err
	}
	residents, err := s.store.ActiveResidents(ctx, dorm.ID)
	if err != nil {
		return orchestrator.SweepResult{}, err
	}

	result, err := s.sync.EnrollAll(ctx, dorm, residents)
	if result.Failed > 0 && s.alerts != nil {
		s.alerts.Dispatch(notification.Alert{
			DormitoryID: dorm.ID,
			Operation:   string(orchestrator.OpEnroll),
			Reason:      fmt.Sprintf("%d of %d residents failed to sync", result.Failed, result.Failed+result.Succeeded),
		})
	}
	return result, err
}
