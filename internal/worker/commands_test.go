package worker_test

import (
	"testing"

	"codeberg.org/mutker/clevoctl/internal/errors"
	"codeberg.org/mutker/clevoctl/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetManualDutyValidatesRange(t *testing.T) {
	shared := newShared(t)
	cmd := worker.NewCommands(shared)

	for _, percent := range []int{-1, 0, 39, 101} {
		err := cmd.SetManualDuty(percent)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	}

	require.NoError(t, cmd.SetManualDuty(worker.MinManualDuty))
	assert.False(t, shared.AutoModeEnabled())
	assert.Equal(t, worker.MinManualDuty, shared.ManualDutyRequest())
}

func TestSetAutoModeClearsManualRequest(t *testing.T) {
	shared := newShared(t)
	cmd := worker.NewCommands(shared)

	require.NoError(t, cmd.SetManualDuty(70))
	cmd.SetAutoMode()

	assert.True(t, shared.AutoModeEnabled())
	assert.Zero(t, shared.ManualDutyRequest())
}

func TestStatusReflectsSharedState(t *testing.T) {
	shared := newShared(t)
	shared.SetCPUTemp(62)
	shared.SetGPUTemp(55)
	shared.SetCPUFanDuty(60)
	shared.SetGPUFanDuty(45)
	shared.SetCPUFanRPM(3200)
	shared.SetGPUFanRPM(2800)

	status := worker.NewCommands(shared).Status()
	assert.Equal(t, worker.Status{
		CPUTemp:    62,
		GPUTemp:    55,
		CPUFanDuty: 60,
		GPUFanDuty: 45,
		CPUFanRPM:  3200,
		GPUFanRPM:  2800,
		AutoMode:   true,
	}, status)
}

func TestRequestShutdownRaisesExitFlag(t *testing.T) {
	shared := newShared(t)

	worker.NewCommands(shared).RequestShutdown()
	assert.True(t, shared.ShouldExit())
}
