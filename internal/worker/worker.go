// Package worker runs the privileged control loop: it polls the EC,
// decides fan duty through the curve engine and publishes telemetry
// into the shared control state for the supervisor process to display.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/clevoctl/internal/curve"
	"codeberg.org/mutker/clevoctl/internal/ec"
	"codeberg.org/mutker/clevoctl/internal/logger"
	"codeberg.org/mutker/clevoctl/internal/shmem"
	"codeberg.org/mutker/clevoctl/internal/telemetry"
	"golang.org/x/sys/unix"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 200 * time.Millisecond

// State of the control loop.
type State int32

const (
	Running State = iota
	Draining
	Terminated
)

// DutyWriter pushes duty cycles to the hardware. Duty writes always go
// through the handshake protocol, even while telemetry comes from the
// bulk snapshot channel.
type DutyWriter interface {
	WriteFanDuty(channel ec.FanChannel, percent int) error
}

type Options struct {
	Shared    *shmem.State
	Writer    DutyWriter
	Snapshots ec.SnapshotReader
	CPUCurve  curve.Table
	GPUCurve  curve.Table
	Interval  time.Duration
	ParentPID int
	Monitor   bool
	Collector telemetry.Collector // nil disables telemetry recording
}

type Worker struct {
	shared    *shmem.State
	writer    DutyWriter
	snapshots ec.SnapshotReader
	cpuCurve  curve.Table
	gpuCurve  curve.Table
	interval  time.Duration
	parentPID int
	monitor   bool
	collector telemetry.Collector
	state     atomic.Int32
}

func New(opts Options) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CPUCurve == nil {
		opts.CPUCurve = curve.DefaultCPU()
	}
	if opts.GPUCurve == nil {
		opts.GPUCurve = curve.DefaultGPU()
	}

	return &Worker{
		shared:    opts.Shared,
		writer:    opts.Writer,
		snapshots: opts.Snapshots,
		cpuCurve:  opts.CPUCurve,
		gpuCurve:  opts.GPUCurve,
		interval:  opts.Interval,
		parentPID: opts.ParentPID,
		monitor:   opts.Monitor,
		collector: opts.Collector,
	}
}

// State returns the loop's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run executes poll cycles until shutdown is requested, the supervisor
// dies, or the snapshot channel becomes unavailable. Only the last case
// returns an error: without reliable telemetry any further duty write
// would be blind.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(Running)
	defer w.setState(Terminated)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if w.shared.ShouldExit() {
			w.setState(Draining)
			logger.Info().Msg("Worker draining on shutdown request")
			return nil
		}

		if w.parentPID != 0 && unix.Kill(w.parentPID, 0) != nil {
			w.setState(Draining)
			logger.Info().Msg("Worker draining on supervisor death")
			return nil
		}

		if !w.monitor {
			w.applyManualDuty()
		}

		fresh, err := w.publishTelemetry()
		if err != nil {
			return err
		}

		if fresh {
			if !w.monitor && w.shared.AutoModeEnabled() {
				w.adjustAutoDuty()
			}
			w.record(ctx)
		}

		select {
		case <-ctx.Done():
			w.setState(Draining)
			logger.Info().Msg("Worker draining on cancellation")
			return nil
		case <-ticker.C:
		}
	}
}

// applyManualDuty pushes a pending manual override to both fan channels
// exactly once per distinct request.
func (w *Worker) applyManualDuty() {
	duty := w.shared.ManualDutyRequest()
	if duty == 0 || duty == w.shared.LastAppliedManualDuty() {
		return
	}

	logger.Info().Int("duty", duty).Msg("Applying manual fan duty")

	for _, channel := range []ec.FanChannel{ec.FanCPU, ec.FanGPU} {
		if err := w.writer.WriteFanDuty(channel, duty); err != nil {
			logger.Warn().Err(err).Str("fan", channel.String()).Msg("Manual duty write unacknowledged")
		}
	}

	// Recorded even when the ack timed out; retrying every cycle would
	// hammer the EC for a write that most likely landed.
	w.shared.SetLastAppliedManualDuty(duty)
}

// publishTelemetry reads one snapshot and publishes it into the shared
// state. Returns false on a short read, which skips the rest of the
// cycle, and an error only when the snapshot channel is unavailable.
func (w *Worker) publishTelemetry() (bool, error) {
	snapshot, err := w.snapshots.ReadSnapshot()
	switch {
	case err == nil:
	case ec.IsSizeMismatch(err):
		logger.Warn().Err(err).Msg("Short EC snapshot, skipping cycle")
		return false, nil
	default:
		logger.Error().Err(err).Msg("EC snapshot channel unavailable")
		return false, err
	}

	w.shared.SetCPUTemp(snapshot.CPUTemp())
	w.shared.SetGPUTemp(snapshot.GPUTemp())
	w.shared.SetCPUFanDuty(snapshot.CPUFanDuty())
	w.shared.SetGPUFanDuty(snapshot.GPUFanDuty())
	w.shared.SetCPUFanRPM(snapshot.CPUFanRPM())
	w.shared.SetGPUFanRPM(snapshot.GPUFanRPM())

	logger.Debug().
		Int("cpu_temp", snapshot.CPUTemp()).
		Int("cpu_duty", snapshot.CPUFanDuty()).
		Int("cpu_rpm", snapshot.CPUFanRPM()).
		Int("gpu_temp", snapshot.GPUTemp()).
		Int("gpu_duty", snapshot.GPUFanDuty()).
		Int("gpu_rpm", snapshot.GPUFanRPM()).
		Msg("")

	return true, nil
}

// adjustAutoDuty runs the curve engine per axis and writes any duty
// change not already applied in a previous cycle.
func (w *Worker) adjustAutoDuty() {
	w.adjustAxis(ec.FanCPU, w.cpuCurve,
		w.shared.CPUTemp(), w.shared.CPUFanDuty(),
		w.shared.LastAutoCPUDuty, w.shared.SetLastAutoCPUDuty)
	w.adjustAxis(ec.FanGPU, w.gpuCurve,
		w.shared.GPUTemp(), w.shared.GPUFanDuty(),
		w.shared.LastAutoGPUDuty, w.shared.SetLastAutoGPUDuty)
}

func (w *Worker) adjustAxis(
	channel ec.FanChannel, table curve.Table, temp, duty int,
	lastApplied func() int, setLastApplied func(int),
) {
	next := curve.NextDuty(temp, duty, table)
	if next == curve.DutyHold || next == lastApplied() {
		return
	}

	logger.Info().
		Str("fan", channel.String()).
		Int("temp", temp).
		Int("duty", next).
		Msg("Auto fan duty")

	if err := w.writer.WriteFanDuty(channel, next); err != nil {
		logger.Warn().Err(err).Str("fan", channel.String()).Msg("Auto duty write unacknowledged")
	}
	setLastApplied(next)
}

func (w *Worker) record(ctx context.Context) {
	if w.collector == nil {
		return
	}

	snapshot := &telemetry.CycleSnapshot{
		Timestamp: time.Now(),
		CPU: telemetry.AxisMetrics{
			Temp:    w.shared.CPUTemp(),
			FanDuty: w.shared.CPUFanDuty(),
			FanRPM:  w.shared.CPUFanRPM(),
		},
		GPU: telemetry.AxisMetrics{
			Temp:    w.shared.GPUTemp(),
			FanDuty: w.shared.GPUFanDuty(),
			FanRPM:  w.shared.GPUFanRPM(),
		},
		AutoMode:   w.shared.AutoModeEnabled(),
		ManualDuty: w.shared.ManualDutyRequest(),
	}

	if err := w.collector.Record(ctx, snapshot); err != nil {
		logger.Warn().Err(err).Msg("Telemetry record failed")
	}
}
