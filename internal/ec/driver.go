package ec

import (
	"time"

	"codeberg.org/mutker/clevoctl/internal/errors"
	"codeberg.org/mutker/clevoctl/internal/logger"
)

const (
	defaultWaitInterval = time.Millisecond
	defaultWaitAttempts = 100

	// Duty writes below this floor risk stalling the fan entirely.
	minWritableDuty = 10
	maxWritableDuty = 100
)

// Driver speaks the EC register handshake protocol over a PortBus.
// Each register access alternates buffer-flag waits with command and
// data transfers on the two ports.
type Driver struct {
	bus PortBus

	// Busy-wait policy, overridable in tests.
	WaitInterval time.Duration
	WaitAttempts int
}

func NewDriver(bus PortBus) *Driver {
	return &Driver{
		bus:          bus,
		WaitInterval: defaultWaitInterval,
		WaitAttempts: defaultWaitAttempts,
	}
}

// waitFlag polls the control port until the given status bit matches want.
func (d *Driver) waitFlag(flag uint, want byte) error {
	errFactory := errors.New()

	var data byte
	for i := 0; i < d.WaitAttempts; i++ {
		var err error
		data, err = d.bus.ReadPort(PortControl)
		if err != nil {
			return err
		}
		if (data>>flag)&0x1 == want {
			return nil
		}
		time.Sleep(d.WaitInterval)
	}

	return errFactory.WithData(ErrHandshakeTimeout, struct {
		Flag uint
		Want byte
		Last byte
	}{Flag: flag, Want: want, Last: data})
}

// waitLoose is the read-path variant of waitFlag: a timeout is logged
// and the handshake proceeds with whatever the EC has on the bus. The
// hardware sometimes misses a flag transition yet still delivers a
// usable byte, and a stale reading is corrected on the next cycle.
func (d *Driver) waitLoose(flag uint, want byte) error {
	err := d.waitFlag(flag, want)
	if err == nil {
		return nil
	}
	if errors.HasCode(err, ErrHandshakeTimeout) {
		logger.Warn().Err(err).Msg("EC handshake wait timed out, proceeding")
		return nil
	}

	return err
}

// ReadRegister reads a single byte register through the handshake.
// Handshake timeouts do not abort the read; port I/O failures do.
func (d *Driver) ReadRegister(address byte) (byte, error) {
	if err := d.waitLoose(flagInputBufferFull, 0); err != nil {
		return 0, err
	}
	if err := d.bus.WritePort(PortControl, cmdReadRegister); err != nil {
		return 0, err
	}

	if err := d.waitLoose(flagInputBufferFull, 0); err != nil {
		return 0, err
	}
	if err := d.bus.WritePort(PortData, address); err != nil {
		return 0, err
	}

	if err := d.waitLoose(flagOutputBufferFull, 1); err != nil {
		return 0, err
	}

	return d.bus.ReadPort(PortData)
}

// WriteCommand issues a command with a sub-address and value. The final
// wait acts as the acknowledgement; its timeout is returned to the
// caller, who must assume the write may not have taken effect.
func (d *Driver) WriteCommand(command, subAddress, value byte) error {
	if err := d.waitLoose(flagInputBufferFull, 0); err != nil {
		return err
	}
	if err := d.bus.WritePort(PortControl, command); err != nil {
		return err
	}

	if err := d.waitLoose(flagInputBufferFull, 0); err != nil {
		return err
	}
	if err := d.bus.WritePort(PortData, subAddress); err != nil {
		return err
	}

	if err := d.waitLoose(flagInputBufferFull, 0); err != nil {
		return err
	}
	if err := d.bus.WritePort(PortData, value); err != nil {
		return err
	}

	return d.waitFlag(flagInputBufferFull, 0)
}

// WriteFanDuty sets the duty cycle of one fan channel. The percentage is
// clamped to [10,100] before conversion to the raw hardware scale.
func (d *Driver) WriteFanDuty(channel FanChannel, percent int) error {
	return d.WriteCommand(cmdSetFanDuty, byte(channel), DutyToRaw(percent))
}

// Single-register diagnostic queries, used by the dump and one-shot set
// paths. The recurring worker loop reads the bulk snapshot instead.

func (d *Driver) QueryCPUTemp() (int, error) {
	raw, err := d.ReadRegister(RegCPUTemp)
	return int(raw), err
}

func (d *Driver) QueryGPUTemp() (int, error) {
	raw, err := d.ReadRegister(RegGPUTemp)
	return int(raw), err
}

func (d *Driver) QueryCPUFanDuty() (int, error) {
	raw, err := d.ReadRegister(RegCPUFanDuty)
	return CalculateFanDuty(raw), err
}

func (d *Driver) QueryGPUFanDuty() (int, error) {
	raw, err := d.ReadRegister(RegGPUFanDuty)
	return CalculateFanDuty(raw), err
}

func (d *Driver) QueryCPUFanRPM() (int, error) {
	hi, err := d.ReadRegister(RegCPUFanRPMHi)
	if err != nil {
		return 0, err
	}
	lo, err := d.ReadRegister(RegCPUFanRPMLo)
	return CalculateFanRPM(hi, lo), err
}

func (d *Driver) QueryGPUFanRPM() (int, error) {
	hi, err := d.ReadRegister(RegGPUFanRPMHi)
	if err != nil {
		return 0, err
	}
	lo, err := d.ReadRegister(RegGPUFanRPMLo)
	return CalculateFanRPM(hi, lo), err
}
