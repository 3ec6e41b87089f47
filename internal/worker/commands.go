package worker

import (
	"codeberg.org/mutker/clevoctl/internal/errors"
	"codeberg.org/mutker/clevoctl/internal/shmem"
)

// Manual duty requests outside this range are rejected at the command
// surface; the driver additionally clamps whatever reaches the wire.
const (
	MinManualDuty = 40
	MaxManualDuty = 100
)

// Commands is the surface the display process uses to drive the worker.
// Every mutation lands in a supervisor-owned shared-state field and is
// picked up by the worker within one poll period.
type Commands struct {
	shared *shmem.State
}

func NewCommands(shared *shmem.State) *Commands {
	return &Commands{shared: shared}
}

// SetAutoMode hands duty control back to the curve engine.
func (c *Commands) SetAutoMode() {
	c.shared.RequestManualDuty(0)
	c.shared.SetAutoMode(true)
}

// SetManualDuty pins both fans to a fixed duty percentage.
func (c *Commands) SetManualDuty(percent int) error {
	if percent < MinManualDuty || percent > MaxManualDuty {
		return errors.New().WithData(errors.ErrInvalidArgument, percent)
	}

	c.shared.SetAutoMode(false)
	c.shared.RequestManualDuty(percent)

	return nil
}

// RequestShutdown asks the worker to drain and exit.
func (c *Commands) RequestShutdown() {
	c.shared.SetShouldExit()
}

// Status is one coherent-enough view of the worker's telemetry. Fields
// may straddle two worker cycles; each is refreshed every cycle.
type Status struct {
	CPUTemp    int
	GPUTemp    int
	CPUFanDuty int
	GPUFanDuty int
	CPUFanRPM  int
	GPUFanRPM  int
	AutoMode   bool
	ManualDuty int
}

func (c *Commands) Status() Status {
	return Status{
		CPUTemp:    c.shared.CPUTemp(),
		GPUTemp:    c.shared.GPUTemp(),
		CPUFanDuty: c.shared.CPUFanDuty(),
		GPUFanDuty: c.shared.GPUFanDuty(),
		CPUFanRPM:  c.shared.CPUFanRPM(),
		GPUFanRPM:  c.shared.GPUFanRPM(),
		AutoMode:   c.shared.AutoModeEnabled(),
		ManualDuty: c.shared.ManualDutyRequest(),
	}
}
