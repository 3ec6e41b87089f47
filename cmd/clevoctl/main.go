package main

import (
	"fmt"
	"os"
	"strconv"

	"codeberg.org/mutker/clevoctl/internal/config"
	"codeberg.org/mutker/clevoctl/internal/ec"
	"codeberg.org/mutker/clevoctl/internal/errors"
	"codeberg.org/mutker/clevoctl/internal/logger"
	"codeberg.org/mutker/clevoctl/internal/pid"
	"codeberg.org/mutker/clevoctl/internal/supervisor"
	"codeberg.org/mutker/clevoctl/internal/worker"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := run(); err != nil {
		logger.Error().Err(err).Msg("clevoctl failed")
		os.Exit(1)
	}
}

func run() error {
	if len(cfg.Args) > 0 {
		if cfg.Args[0] == supervisor.WorkerArg {
			return supervisor.RunWorker(cfg)
		}

		return runCommand(cfg.Args[0])
	}

	if err := pid.Write(); err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			logger.Error().Msg("Another instance is already running")
		}

		return err
	}
	defer pid.Remove()

	return supervisor.Run(cfg)
}

// runCommand handles the one-shot modes: "dump" prints the current EC
// readings, a bare percentage pins both fans to that duty and dumps the
// result. Both talk to the hardware directly, without the process pair.
func runCommand(arg string) error {
	errFactory := errors.New()

	if arg == "dump" {
		return withDriver(dumpState)
	}

	percent, err := strconv.Atoi(arg)
	if err != nil {
		return errFactory.WithData(errors.ErrInvalidArgument,
			fmt.Sprintf("unknown command %q, expected 'dump' or a duty percentage", arg))
	}
	if percent < worker.MinManualDuty || percent > worker.MaxManualDuty {
		return errFactory.WithData(errors.ErrInvalidArgument,
			fmt.Sprintf("duty %d out of range [%d,%d]", percent, worker.MinManualDuty, worker.MaxManualDuty))
	}

	return withDriver(func(driver *ec.Driver) error {
		for _, channel := range []ec.FanChannel{ec.FanCPU, ec.FanGPU} {
			if err := driver.WriteFanDuty(channel, percent); err != nil {
				return err
			}
		}

		return dumpState(driver)
	})
}

func withDriver(fn func(*ec.Driver) error) error {
	bus, err := ec.OpenPortBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	return fn(ec.NewDriver(bus))
}

func dumpState(driver *ec.Driver) error {
	type query struct {
		label string
		unit  string
		fn    func() (int, error)
	}

	for _, q := range []query{
		{"CPU temperature", "°C", driver.QueryCPUTemp},
		{"CPU fan duty", "%", driver.QueryCPUFanDuty},
		{"CPU fan speed", " RPM", driver.QueryCPUFanRPM},
		{"GPU temperature", "°C", driver.QueryGPUTemp},
		{"GPU fan duty", "%", driver.QueryGPUFanDuty},
		{"GPU fan speed", " RPM", driver.QueryGPUFanRPM},
	} {
		value, err := q.fn()
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %d%s\n", q.label, value, q.unit)
	}

	return nil
}
