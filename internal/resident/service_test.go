package resident

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"dormitory-access-backend/internal/device"
	"dormitory-access-backend/internal/model"
	"dormitory-access-backend/internal/notification"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/store"
)

// scriptedCapability answers every call with the next scripted outcome.
type scriptedCapability struct {
	mu       sync.Mutex
	ops      []string
	outcomes []device.Outcome
	onCall   func()
}

func (c *scriptedCapability) next(op string) device.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
	if c.onCall != nil {
		c.onCall()
	}
	if len(c.outcomes) == 0 {
		return device.Success()
	}
	out := c.outcomes[0]
	c.outcomes = c.outcomes[1:]
	return out
}

func (c *scriptedCapability) Enroll(_ context.Context, _ []model.Device, _, _, _ string) device.Outcome {
	return c.next("enroll")
}
func (c *scriptedCapability) Revoke(_ context.Context, _ []model.Device, _ string) device.Outcome {
	return c.next("revoke")
}
func (c *scriptedCapability) Open(_ context.Context, _ []model.Device, _ string) device.Outcome {
	return c.next("open")
}
func (c *scriptedCapability) Block(_ context.Context, _ []model.Device, _ string) device.Outcome {
	return c.next("block")
}

type recordingAlerter struct {
	alerts []notification.Alert
}

func (a *recordingAlerter) Dispatch(alert notification.Alert) {
	a.alerts = append(a.alerts, alert)
}

type harness struct {
	svc    *Service
	store  store.Store
	cap    *scriptedCapability
	alerts *recordingAlerter
	dorm   model.Dormitory
	room   model.Room
}

var fixedNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Dormitory{}, &model.Device{}, &model.Room{}, &model.Resident{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	st := store.NewGormStore(db)
	ctx := context.Background()
	h := &harness{store: st, cap: &scriptedCapability{}, alerts: &recordingAlerter{}}
	h.dorm = model.Dormitory{OrganizationID: 1, Name: "North", MonthlyRent: 300000, MinRequiredMonths: 10}
	require.NoError(t, st.CreateDormitory(ctx, &h.dorm))
	require.NoError(t, st.CreateDevice(ctx, &model.Device{DormitoryID: h.dorm.ID, Address: "10.0.0.1", Username: "u", Password: "p", Entrance: true}))
	h.room = model.Room{DormitoryID: h.dorm.ID, Number: "101", Size: 1}
	require.NoError(t, st.CreateRoom(ctx, &h.room))

	orch := orchestrator.New(h.cap, orchestrator.Config{TempDir: t.TempDir()}, nil,
		orchestrator.WithSleep(func(context.Context, time.Duration) error { return nil }))
	h.svc = NewService(st, orch, nil,
		WithClock(func() time.Time { return fixedNow }),
		WithAlerter(h.alerts))
	return h
}

func (h *harness) input() CreateInput {
	return CreateInput{
		DormitoryID: h.dorm.ID,
		RoomID:      &h.room.ID,
		FirstName:   " Aziz ",
		LastName:    "Karimov",
		Photo:       []byte("jpeg"),
	}
}

func (h *harness) reload(t *testing.T, id int64) model.Resident {
	var r model.Resident
	require.NoError(t, h.store.DB().First(&r, id).Error)
	return r
}

func TestService_CreateEnrollsAndDefaultsArrival(t *testing.T) {
	h := newHarness(t)

	r, err := h.svc.Create(context.Background(), store.Admin, h.input())
	require.NoError(t, err)

	assert.Equal(t, "Aziz", r.FirstName)
	require.NotNil(t, r.ArrivalDate)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), *r.ArrivalDate)
	assert.Equal(t, []string{"enroll"}, h.cap.ops)
	assert.Equal(t, []byte("jpeg"), h.reload(t, r.ID).Photo)
}

func TestService_CreateRollsBackOnEnrollFailure(t *testing.T) {
	h := newHarness(t)
	h.cap.outcomes = []device.Outcome{device.Failure("10.0.0.1: offline")}

	_, err := h.svc.Create(context.Background(), store.Admin, h.input())
	require.ErrorIs(t, err, orchestrator.ErrDeviceCommunication)
	assert.Equal(t, "10.0.0.1: offline", orchestrator.Reason(err))

	var count int64
	require.NoError(t, h.store.DB().Model(&model.Resident{}).Count(&count).Error)
	assert.Zero(t, count, "the half-created resident must be discarded")

	require.Len(t, h.alerts.alerts, 1)
	assert.Equal(t, "enroll", h.alerts.alerts[0].Operation)
	assert.Equal(t, h.dorm.ID, h.alerts.alerts[0].DormitoryID)
}

func TestService_CreateDiscardsRecordAfterCallerCancels(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.cap.onCall = cancel
	h.cap.outcomes = []device.Outcome{device.Failure("10.0.0.1: timeout")}

	_, err := h.svc.Create(ctx, store.Admin, h.input())
	require.ErrorIs(t, err, orchestrator.ErrDeviceCommunication)

	var count int64
	require.NoError(t, h.store.DB().Model(&model.Resident{}).Count(&count).Error)
	assert.Zero(t, count, "the discard must not depend on the request context")
}

func TestService_DeleteRecordsRevokeAfterCallerCancels(t *testing.T) {
	h := newHarness(t)
	r, err := h.svc.Create(context.Background(), store.Admin, h.input())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.cap.onCall = cancel

	_, err = h.svc.Delete(ctx, store.Admin, r.ID, "warden")
	require.NoError(t, err)
	assert.True(t, h.reload(t, r.ID).Deleted)
}

func TestService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]func(*CreateInput){
		"missing first name": func(in *CreateInput) { in.FirstName = "  " },
		"missing last name":  func(in *CreateInput) { in.LastName = "" },
		"missing photo":      func(in *CreateInput) { in.Photo = nil },
		"oversized photo":    func(in *CreateInput) { in.Photo = bytes.Repeat([]byte{1}, orchestrator.DefaultMaxPhotoBytes+1) },
		"negative payment":   func(in *CreateInput) { in.PaidTotal = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := h.input()
			mutate(&in)
			_, err := h.svc.Create(ctx, store.Admin, in)
			assert.ErrorIs(t, err, orchestrator.ErrValidation)
		})
	}
	assert.Empty(t, h.cap.ops, "validation failures never reach devices")
}

func TestService_CreateAcceptsPhotoAtLimit(t *testing.T) {
	h := newHarness(t)
	in := h.input()
	in.Photo = bytes.Repeat([]byte{1}, orchestrator.DefaultMaxPhotoBytes)

	_, err := h.svc.Create(context.Background(), store.Admin, in)
	assert.NoError(t, err)
}

func TestService_CreateRejectsFullRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, store.Admin, h.input())
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, store.Admin, h.input())
	assert.ErrorIs(t, err, orchestrator.ErrValidation)
	assert.Len(t, h.cap.ops, 1)
}

func TestService_CreateOutsideScope(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Create(context.Background(), store.Scope{Role: store.RoleDirector, OrganizationID: 99}, h.input())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_DeleteMarksResidentAfterRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.svc.Create(ctx, store.Admin, h.input())
	require.NoError(t, err)

	_, err = h.svc.Delete(ctx, store.Admin, r.ID, "warden")
	require.NoError(t, err)

	got := h.reload(t, r.ID)
	assert.True(t, got.Deleted)
	assert.Nil(t, got.RoomID)
	assert.Equal(t, "warden", got.DeletedBy)
	require.NotNil(t, got.CheckoutDate)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got.CheckoutDate.UTC())

	_, err = h.svc.Delete(ctx, store.Admin, r.ID, "warden")
	assert.ErrorIs(t, err, orchestrator.ErrValidation)
}

func TestService_DeleteKeepsRecordWhenRevokeFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.svc.Create(ctx, store.Admin, h.input())
	require.NoError(t, err)

	h.cap.outcomes = []device.Outcome{device.Failure("10.0.0.1: timeout")}
	_, err = h.svc.Delete(ctx, store.Admin, r.ID, "warden")
	require.ErrorIs(t, err, orchestrator.ErrDeviceCommunication)

	got := h.reload(t, r.ID)
	assert.False(t, got.Deleted)
	require.NotNil(t, got.RoomID)
	assert.Equal(t, h.room.ID, *got.RoomID)
	assert.Nil(t, got.CheckoutDate)
	require.Len(t, h.alerts.alerts, 1)
	assert.Equal(t, "revoke", h.alerts.alerts[0].Operation)
}

func TestService_ToggleBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.svc.Create(ctx, store.Admin, h.input())
	require.NoError(t, err)

	blocked, err := h.svc.ToggleBlock(ctx, store.Admin, r.ID)
	require.NoError(t, err)
	assert.True(t, blocked.Blocked)
	assert.True(t, h.reload(t, r.ID).Blocked)

	h.cap.outcomes = []device.Outcome{device.Failure("down")}
	_, err = h.svc.ToggleBlock(ctx, store.Admin, r.ID)
	require.ErrorIs(t, err, orchestrator.ErrDeviceCommunication)
	assert.True(t, h.reload(t, r.ID).Blocked, "flag unchanged on device failure")

	unblocked, err := h.svc.ToggleBlock(ctx, store.Admin, r.ID)
	require.NoError(t, err)
	assert.False(t, unblocked.Blocked)

	assert.Equal(t, []string{"enroll", "block", "open", "open"}, h.cap.ops)
}

func TestService_SyncDormitory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.input()
	in.RoomID = nil
	for i := 0; i < 3; i++ {
		_, err := h.svc.Create(ctx, store.Admin, in)
		require.NoError(t, err)
	}

	h.cap.outcomes = []device.Outcome{device.Success(), device.Failure("busy"), device.Success()}
	result, err := h.svc.SyncDormitory(ctx, store.Admin, h.dorm.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, h.alerts.alerts, 1)
	assert.Contains(t, h.alerts.alerts[0].Reason, "1 of 3")
}

func TestService_UpdateRecordsPaymentAndDates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.svc.Create(ctx, store.Admin, h.input())
	require.NoError(t, err)
	h.cap.ops = nil

	paid := int64(1500000)
	arrival := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	checkout := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	faculty := " Physics "
	got, err := h.svc.Update(ctx, store.Admin, r.ID, UpdateInput{
		PaidTotal:    &paid,
		ArrivalDate:  &arrival,
		CheckoutDate: &checkout,
		Faculty:      &faculty,
	})
	require.NoError(t, err)
	assert.Equal(t, paid, got.PaidTotal)

	stored := h.reload(t, r.ID)
	assert.Equal(t, paid, stored.PaidTotal)
	assert.Equal(t, "Physics", stored.Faculty)
	require.NotNil(t, stored.CheckoutDate)
	assert.Equal(t, checkout, stored.CheckoutDate.UTC())
	assert.Equal(t, "Aziz", stored.FirstName)
	assert.Empty(t, h.cap.ops, "editing never contacts devices")

	_, err = h.svc.Update(ctx, store.Admin, r.ID, UpdateInput{ClearCheckout: true})
	require.NoError(t, err)
	assert.Nil(t, h.reload(t, r.ID).CheckoutDate)
}

func TestService_UpdateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.svc.Create(ctx, store.Admin, h.input())
	require.NoError(t, err)

	negative := int64(-1)
	blank := "  "
	early := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, in := range map[string]UpdateInput{
		"negative payment":   {PaidTotal: &negative},
		"blank name":         {FirstName: &blank},
		"checkout too early": {CheckoutDate: &early},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Update(ctx, store.Admin, r.ID, in)
			assert.ErrorIs(t, err, orchestrator.ErrValidation)
		})
	}

	_, err = h.svc.Update(ctx, store.Scope{Role: store.RoleStaff, DormitoryID: 999}, r.ID, UpdateInput{PaidTotal: new(int64)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_UpdateMovesBetweenRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.svc.Create(ctx, store.Admin, h.input())
	require.NoError(t, err)

	in := h.input()
	in.RoomID = nil
	second, err := h.svc.Create(ctx, store.Admin, in)
	require.NoError(t, err)

	_, err = h.svc.Update(ctx, store.Admin, second.ID, UpdateInput{RoomID: &h.room.ID})
	assert.ErrorIs(t, err, orchestrator.ErrValidation, "room 101 is full")

	noRoom := int64(0)
	_, err = h.svc.Update(ctx, store.Admin, first.ID, UpdateInput{RoomID: &noRoom})
	require.NoError(t, err)
	assert.Nil(t, h.reload(t, first.ID).RoomID)

	_, err = h.svc.Update(ctx, store.Admin, second.ID, UpdateInput{RoomID: &h.room.ID})
	require.NoError(t, err)
	require.NotNil(t, h.reload(t, second.ID).RoomID)
	assert.Equal(t, h.room.ID, *h.reload(t, second.ID).RoomID)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Empty(t, k.locks)
}
