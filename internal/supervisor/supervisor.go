// Package supervisor runs the unprivileged side of the process pair: it
// owns the shared control state, spawns the privileged worker process
// and turns signals and commands into shared-state writes. The worker
// half of the pair also starts here, from the hidden argv marker.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"codeberg.org/mutker/clevoctl/internal/config"
	"codeberg.org/mutker/clevoctl/internal/ec"
	"codeberg.org/mutker/clevoctl/internal/errors"
	"codeberg.org/mutker/clevoctl/internal/logger"
	"codeberg.org/mutker/clevoctl/internal/shmem"
	"codeberg.org/mutker/clevoctl/internal/telemetry"
	"codeberg.org/mutker/clevoctl/internal/worker"
)

const (
	// WorkerArg is the argv marker that makes a re-executed copy of the
	// binary run the worker loop instead of the supervisor.
	WorkerArg = "__worker"

	// The shared-state descriptor inherited by the worker, right after
	// stdin, stdout and stderr.
	sharedStateFd = 3

	statusInterval = 500 * time.Millisecond

	// How long a draining worker gets before it is killed outright.
	drainTimeout = 2 * time.Second
)

// workerArgv rebuilds a command line from the resolved configuration,
// so the worker runs with exactly the settings the supervisor resolved
// rather than re-interpreting the supervisor's raw arguments.
func workerArgv(exe string, cfg *config.Config) []string {
	argv := []string{
		exe, WorkerArg,
		"--interval", strconv.Itoa(cfg.Interval),
		"--database", cfg.TelemetryDB,
	}
	if cfg.Debug {
		argv = append(argv, "--debug")
	}
	if cfg.Verbose {
		argv = append(argv, "--verbose")
	}
	if cfg.Monitor {
		argv = append(argv, "--monitor")
	}
	if cfg.Telemetry {
		argv = append(argv, "--telemetry")
	}

	return argv
}

// Run drives the supervisor side until a termination signal arrives or
// the worker dies. The worker process is a re-execution of this binary
// with the worker marker and the resolved configuration as arguments.
func Run(cfg *config.Config) error {
	errFactory := errors.New()

	shared, err := shmem.Create()
	if err != nil {
		return err
	}
	defer shared.Close()

	exe, err := os.Executable()
	if err != nil {
		return errFactory.Wrap(errors.ErrSpawnWorker, err)
	}

	proc, err := os.StartProcess(exe, workerArgv(exe, cfg), &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, shared.File()},
	})
	if err != nil {
		return errFactory.Wrap(errors.ErrSpawnWorker, err)
	}

	logger.Info().Int("worker_pid", proc.Pid).Msg("Worker process started")

	workerDone := make(chan *os.ProcessState, 1)
	go func() {
		state, _ := proc.Wait()
		workerDone <- state
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(signals)

	commands := worker.NewCommands(shared)
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-signals:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			shared.SetShouldExit()
			return drainWorker(proc, workerDone)
		case state := <-workerDone:
			if shared.ShouldExit() {
				return nil
			}
			detail := "wait failed"
			if state != nil {
				detail = state.String()
			}
			return errFactory.WithData(errors.ErrMainLoop, detail)
		case <-ticker.C:
			logStatus(commands.Status())
		}
	}
}

// drainWorker waits for the worker to notice the exit flag and drain,
// killing it if it does not make the deadline.
func drainWorker(proc *os.Process, done <-chan *os.ProcessState) error {
	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		logger.Warn().Msg("Worker did not drain in time, killing")
		if err := proc.Kill(); err != nil {
			return errors.New().Wrap(errors.ErrShutdownFailed, err)
		}
		<-done
		return nil
	}
}

func logStatus(s worker.Status) {
	mode := "auto"
	if !s.AutoMode {
		mode = "manual"
	}

	logger.Info().
		Str("mode", mode).
		Int("cpu_temp", s.CPUTemp).
		Int("cpu_duty", s.CPUFanDuty).
		Int("cpu_rpm", s.CPUFanRPM).
		Int("gpu_temp", s.GPUTemp).
		Int("gpu_duty", s.GPUFanDuty).
		Int("gpu_rpm", s.GPUFanRPM).
		Msg("")
}

// RunWorker is the entry point of the re-executed worker process. It
// attaches the inherited shared state, opens the hardware channels and
// runs the control loop until drained.
func RunWorker(cfg *config.Config) error {
	errFactory := errors.New()

	shared, err := shmem.Attach(os.NewFile(sharedStateFd, "clevoctl-state"))
	if err != nil {
		return err
	}
	defer shared.Close()

	bus, err := ec.OpenPortBus()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	defer bus.Close()

	if _, err := os.Stat(ec.SysfsECPath); err != nil {
		logger.Warn().Str("path", ec.SysfsECPath).
			Msg("EC snapshot channel missing, try 'modprobe ec_sys'")
	}

	var collector telemetry.Collector
	if cfg.Telemetry {
		collector, err = telemetry.NewService(telemetry.DefaultConfig(cfg.TelemetryDB))
		if err != nil {
			logger.Warn().Err(err).Msg("Telemetry disabled")
		} else {
			defer collector.Close()
		}
	}

	// Signals cancel the loop context rather than raising the exit flag:
	// that flag belongs to the supervisor.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(signals)
	go func() {
		<-signals
		cancel()
	}()

	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    ec.NewDriver(bus),
		Snapshots: ec.NewSnapshotReader(),
		CPUCurve:  cfg.CPUCurve,
		GPUCurve:  cfg.GPUCurve,
		Interval:  time.Duration(cfg.Interval) * time.Millisecond,
		ParentPID: os.Getppid(),
		Monitor:   cfg.Monitor,
		Collector: collector,
	})

	return w.Run(ctx)
}
