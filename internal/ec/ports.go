package ec

import (
	"codeberg.org/mutker/clevoctl/internal/errors"
	"golang.org/x/sys/unix"
)

const devPortPath = "/dev/port"

// PortBus provides byte-wide access to legacy I/O ports.
type PortBus interface {
	ReadPort(port uint16) (byte, error)
	WritePort(port uint16, value byte) error
	Close() error
}

// devPortBus reaches the I/O ports through /dev/port, where the port
// address is the file offset. Requires root.
type devPortBus struct {
	fd int
}

// OpenPortBus opens the port I/O channel used by the handshake driver.
func OpenPortBus() (PortBus, error) {
	errFactory := errors.New()

	fd, err := unix.Open(devPortPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, errFactory.Wrap(ErrPortOpenFailed, err)
	}

	return &devPortBus{fd: fd}, nil
}

func (b *devPortBus) ReadPort(port uint16) (byte, error) {
	errFactory := errors.New()

	var buf [1]byte
	n, err := unix.Pread(b.fd, buf[:], int64(port))
	if err != nil {
		return 0, errFactory.Wrap(ErrPortIO, err)
	}
	if n != 1 {
		return 0, errFactory.WithData(ErrPortIO, "short port read")
	}

	return buf[0], nil
}

func (b *devPortBus) WritePort(port uint16, value byte) error {
	errFactory := errors.New()

	buf := [1]byte{value}
	n, err := unix.Pwrite(b.fd, buf[:], int64(port))
	if err != nil {
		return errFactory.Wrap(ErrPortIO, err)
	}
	if n != 1 {
		return errFactory.WithData(ErrPortIO, "short port write")
	}

	return nil
}

func (b *devPortBus) Close() error {
	return unix.Close(b.fd)
}
