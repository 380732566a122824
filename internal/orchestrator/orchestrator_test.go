package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dormitory-access-backend/internal/device"
	"dormitory-access-backend/internal/model"
)

type capabilityCall struct {
	op        string
	targets   []int64
	resident  string
	fullName  string
	photoPath string
	photoSeen bool
}

// stubCapability records each call and answers from a scripted list.
type stubCapability struct {
	mu       sync.Mutex
	calls    []capabilityCall
	outcomes []device.Outcome
	panicOn  string
}

func (s *stubCapability) record(op string, targets []model.Device, resident, fullName, photoPath string) device.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := capabilityCall{op: op, resident: resident, fullName: fullName, photoPath: photoPath}
	for _, t := range targets {
		call.targets = append(call.targets, t.ID)
	}
	if photoPath != "" {
		_, err := os.Stat(photoPath)
		call.photoSeen = err == nil
	}
	s.calls = append(s.calls, call)

	if s.panicOn == op {
		panic("controller exploded")
	}
	if len(s.outcomes) == 0 {
		return device.Success()
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out
}

func (s *stubCapability) Enroll(_ context.Context, targets []model.Device, residentID, fullName, photoPath string) device.Outcome {
	return s.record("enroll", targets, residentID, fullName, photoPath)
}

func (s *stubCapability) Revoke(_ context.Context, targets []model.Device, residentID string) device.Outcome {
	return s.record("revoke", targets, residentID, "", "")
}

func (s *stubCapability) Open(_ context.Context, targets []model.Device, residentID string) device.Outcome {
	return s.record("open", targets, residentID, "", "")
}

func (s *stubCapability) Block(_ context.Context, targets []model.Device, residentID string) device.Outcome {
	return s.record("block", targets, residentID, "", "")
}

func testDormitory() *model.Dormitory {
	return &model.Dormitory{
		ID: 1,
		Devices: []model.Device{
			{ID: 11, Entrance: true},
			{ID: 12, Entrance: false},
			{ID: 13, Entrance: true},
		},
	}
}

func newTestOrchestrator(capability device.Capability, opts ...Option) *Orchestrator {
	return New(capability, Config{TempDir: os.TempDir()}, zap.NewNop(), opts...)
}

func TestApply_TargetPolicy(t *testing.T) {
	stub := &stubCapability{}
	o := newTestOrchestrator(stub)
	dorm := testDormitory()
	ctx := context.Background()

	require.NoError(t, o.Enroll(ctx, dorm, "5", "Aziz Karimov", nil))
	require.NoError(t, o.Revoke(ctx, dorm, "5"))
	require.NoError(t, o.Block(ctx, dorm, "5"))
	require.NoError(t, o.Unblock(ctx, dorm, "5"))

	require.Len(t, stub.calls, 4)
	assert.Equal(t, []int64{11, 13}, stub.calls[0].targets, "enroll targets entrance devices only")
	assert.Equal(t, "Aziz Karimov", stub.calls[0].fullName)
	assert.Empty(t, stub.calls[0].photoPath)
	assert.Equal(t, []int64{11, 13}, stub.calls[1].targets, "revoke targets entrance devices only")
	assert.Equal(t, "block", stub.calls[2].op)
	assert.Equal(t, []int64{11, 12, 13}, stub.calls[2].targets, "block targets every device")
	assert.Equal(t, "open", stub.calls[3].op)
	assert.Equal(t, []int64{11, 12, 13}, stub.calls[3].targets, "unblock targets every device")
}

func TestApply_DeviceFailureSurfacesReason(t *testing.T) {
	stub := &stubCapability{outcomes: []device.Outcome{device.Failure("10.0.0.5: timeout")}}
	o := newTestOrchestrator(stub)

	err := o.Revoke(context.Background(), testDormitory(), "5")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceCommunication))
	assert.False(t, errors.Is(err, ErrValidation))
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, OpRevoke, devErr.Op)
	assert.Equal(t, "10.0.0.5: timeout", Reason(err))
}

func TestApply_UnknownOperationAndMissingResident(t *testing.T) {
	stub := &stubCapability{}
	o := newTestOrchestrator(stub)

	err := o.Apply(context.Background(), Operation("reboot"), testDormitory(), Request{ResidentID: "5"})
	assert.ErrorIs(t, err, ErrValidation)

	err = o.Apply(context.Background(), OpRevoke, testDormitory(), Request{})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, stub.calls)
}

func TestEnroll_PhotoSizeBoundary(t *testing.T) {
	stub := &stubCapability{}
	o := newTestOrchestrator(stub)
	dorm := testDormitory()

	err := o.Enroll(context.Background(), dorm, "5", "Aziz", make([]byte, DefaultMaxPhotoBytes))
	require.NoError(t, err)
	assert.Len(t, stub.calls, 1)

	err = o.Enroll(context.Background(), dorm, "6", "Bek", make([]byte, DefaultMaxPhotoBytes+1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrDeviceCommunication)
	assert.Len(t, stub.calls, 1, "no device call for an oversized photo")
}

func TestEnroll_StagedPhotoIsRemoved(t *testing.T) {
	t.Run("on success", func(t *testing.T) {
		stub := &stubCapability{}
		o := newTestOrchestrator(stub)

		require.NoError(t, o.Enroll(context.Background(), testDormitory(), "5", "Aziz", []byte("jpeg-bytes")))

		require.Len(t, stub.calls, 1)
		assert.True(t, stub.calls[0].photoSeen, "photo must exist during the device call")
		_, err := os.Stat(stub.calls[0].photoPath)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("on failure", func(t *testing.T) {
		stub := &stubCapability{outcomes: []device.Outcome{device.Failure("face rejected")}}
		o := newTestOrchestrator(stub)

		err := o.Enroll(context.Background(), testDormitory(), "5", "Aziz", []byte("jpeg-bytes"))
		require.ErrorIs(t, err, ErrDeviceCommunication)

		require.Len(t, stub.calls, 1)
		assert.True(t, stub.calls[0].photoSeen)
		_, statErr := os.Stat(stub.calls[0].photoPath)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("on panic", func(t *testing.T) {
		stub := &stubCapability{panicOn: "enroll"}
		o := newTestOrchestrator(stub)

		assert.Panics(t, func() {
			_ = o.Enroll(context.Background(), testDormitory(), "5", "Aziz", []byte("jpeg-bytes"))
		})

		require.Len(t, stub.calls, 1)
		_, statErr := os.Stat(stub.calls[0].photoPath)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestEnroll_StagingFailureIsNotADeviceCall(t *testing.T) {
	stub := &stubCapability{}
	o := New(stub, Config{TempDir: "/nonexistent/dir/for/photos"}, zap.NewNop())

	err := o.Enroll(context.Background(), testDormitory(), "5", "Aziz", []byte("jpeg"))
	require.Error(t, err)
	assert.Empty(t, stub.calls)
}
