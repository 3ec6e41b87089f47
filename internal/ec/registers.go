package ec

// EC handshake ports and commands. The control port carries status flags
// and commands, the data port carries register addresses and values.
const (
	PortControl uint16 = 0x66
	PortData    uint16 = 0x62

	flagInputBufferFull  = 1 // bit index in the control port status byte
	flagOutputBufferFull = 0

	cmdReadRegister = 0x80
	cmdSetFanDuty   = 0x99
)

// Register window layout. Only the registers needed for temperature,
// duty and RPM are modeled; the rest of the window is opaque.
const (
	RegisterWindowSize = 0x100

	RegCPUTemp     = 0x07
	RegGPUTemp     = 0x0A
	RegCPUFanDuty  = 0xCE
	RegGPUFanDuty  = 0xCF
	RegCPUFanRPMHi = 0xD0
	RegCPUFanRPMLo = 0xD1
	RegGPUFanRPMHi = 0xD2
	RegGPUFanRPMLo = 0xD3
)

// FanChannel selects the fan addressed by a duty write command.
type FanChannel byte

const (
	FanCPU FanChannel = 0x01
	FanGPU FanChannel = 0x02
)

func (c FanChannel) String() string {
	switch c {
	case FanCPU:
		return "cpu"
	case FanGPU:
		return "gpu"
	default:
		return "unknown"
	}
}
