package shmem_test

import (
	"testing"

	"codeberg.org/mutker/clevoctl/internal/shmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDefaults(t *testing.T) {
	state, err := shmem.Create()
	require.NoError(t, err)
	defer state.Close()

	assert.False(t, state.ShouldExit())
	assert.True(t, state.AutoModeEnabled(), "auto mode enabled by default")
	assert.Zero(t, state.CPUTemp())
	assert.Zero(t, state.ManualDutyRequest())
	assert.Zero(t, state.LastAppliedManualDuty())
}

func TestFieldRoundTrip(t *testing.T) {
	state, err := shmem.Create()
	require.NoError(t, err)
	defer state.Close()

	state.SetCPUTemp(45)
	state.SetGPUTemp(52)
	state.SetCPUFanDuty(35)
	state.SetGPUFanDuty(30)
	state.SetCPUFanRPM(1052)
	state.SetGPUFanRPM(980)
	state.RequestManualDuty(60)
	state.SetLastAppliedManualDuty(60)
	state.SetLastAutoCPUDuty(45)
	state.SetLastAutoGPUDuty(35)
	state.SetAutoMode(false)
	state.SetShouldExit()

	assert.Equal(t, 45, state.CPUTemp())
	assert.Equal(t, 52, state.GPUTemp())
	assert.Equal(t, 35, state.CPUFanDuty())
	assert.Equal(t, 30, state.GPUFanDuty())
	assert.Equal(t, 1052, state.CPUFanRPM())
	assert.Equal(t, 980, state.GPUFanRPM())
	assert.Equal(t, 60, state.ManualDutyRequest())
	assert.Equal(t, 60, state.LastAppliedManualDuty())
	assert.Equal(t, 45, state.LastAutoCPUDuty())
	assert.Equal(t, 35, state.LastAutoGPUDuty())
	assert.False(t, state.AutoModeEnabled())
	assert.True(t, state.ShouldExit())
}

func TestAttachSharesTheRegion(t *testing.T) {
	creator, err := shmem.Create()
	require.NoError(t, err)
	defer creator.Close()

	// A second mapping of the same descriptor sees the creator's writes
	// and vice versa, which is the worker's view after inheriting the fd.
	attached, err := shmem.Attach(creator.File())
	require.NoError(t, err)

	creator.RequestManualDuty(70)
	assert.Equal(t, 70, attached.ManualDutyRequest())

	attached.SetCPUTemp(61)
	assert.Equal(t, 61, creator.CPUTemp())

	creator.SetShouldExit()
	assert.True(t, attached.ShouldExit())
}
