package ec

import (
	"io"
	"os"

	"codeberg.org/mutker/clevoctl/internal/errors"
)

// SysfsECPath is the register mirror exposed by the ec_sys kernel module.
const SysfsECPath = "/sys/kernel/debug/ec/ec0/io"

// Snapshot is one capture of the full EC register window. Reading it in
// bulk avoids a handshake cycle per register during steady-state polling.
type Snapshot [RegisterWindowSize]byte

func (s *Snapshot) CPUTemp() int    { return int(s[RegCPUTemp]) }
func (s *Snapshot) GPUTemp() int    { return int(s[RegGPUTemp]) }
func (s *Snapshot) CPUFanDuty() int { return CalculateFanDuty(s[RegCPUFanDuty]) }
func (s *Snapshot) GPUFanDuty() int { return CalculateFanDuty(s[RegGPUFanDuty]) }

func (s *Snapshot) CPUFanRPM() int {
	return CalculateFanRPM(s[RegCPUFanRPMHi], s[RegCPUFanRPMLo])
}

func (s *Snapshot) GPUFanRPM() int {
	return CalculateFanRPM(s[RegGPUFanRPMHi], s[RegGPUFanRPMLo])
}

// SnapshotReader captures the register window in one operation.
type SnapshotReader interface {
	ReadSnapshot() (*Snapshot, error)
}

type sysfsSnapshotReader struct {
	path string
}

// NewSnapshotReader reads snapshots from the ec_sys register mirror.
func NewSnapshotReader() SnapshotReader {
	return &sysfsSnapshotReader{path: SysfsECPath}
}

// NewSnapshotReaderAt reads snapshots from an alternate mirror path.
func NewSnapshotReaderAt(path string) SnapshotReader {
	return &sysfsSnapshotReader{path: path}
}

// ReadSnapshot returns ErrSnapshotSizeMismatch on a short read (the
// caller skips that cycle) and ErrSnapshotUnavailable when the mirror
// cannot be opened or read at all (no safe access path remains).
func (r *sysfsSnapshotReader) ReadSnapshot() (*Snapshot, error) {
	errFactory := errors.New()

	f, err := os.Open(r.path)
	if err != nil {
		return nil, errFactory.Wrap(ErrSnapshotUnavailable, err)
	}
	defer f.Close()

	var snapshot Snapshot
	n, err := f.Read(snapshot[:])
	if err != nil && err != io.EOF {
		return nil, errFactory.Wrap(ErrSnapshotUnavailable, err)
	}
	if n != RegisterWindowSize {
		return nil, errFactory.WithData(ErrSnapshotSizeMismatch, n)
	}

	return &snapshot, nil
}
