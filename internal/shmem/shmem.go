// Package shmem holds the control state shared between the supervisor
// and the worker process. The region is a fixed-layout block of int32
// fields in a memfd-backed MAP_SHARED mapping created before the worker
// is spawned and inherited through its file descriptor.
//
// There is no locking. Every field has exactly one writer process:
//
//	shouldExit, autoMode, manualDuty       — supervisor
//	temperatures, duties, RPMs, lastAuto*,
//	lastAppliedManualDuty                  — worker
//
// Readers may observe a state straddling two writer cycles; every field
// is refreshed each poll cycle so staleness is bounded by one period.
package shmem

import (
	"os"
	"sync/atomic"
	"unsafe"

	"codeberg.org/mutker/clevoctl/internal/errors"
	"golang.org/x/sys/unix"
)

const regionSize = 4096 // one page; the field block occupies the first 48 bytes

// Field offsets into the mapping.
const (
	offShouldExit        = 0
	offCPUTemp           = 4
	offGPUTemp           = 8
	offCPUFanDuty        = 12
	offGPUFanDuty        = 16
	offCPUFanRPM         = 20
	offGPUFanRPM         = 24
	offAutoMode          = 28
	offLastAutoCPUDuty   = 32
	offLastAutoGPUDuty   = 36
	offManualDuty        = 40
	offLastManualApplied = 44
)

const (
	ErrCreateFailed = errors.ErrorCode("shmem_create_failed")
	ErrAttachFailed = errors.ErrorCode("shmem_attach_failed")
)

// State is one process's view of the shared control block.
type State struct {
	mem  []byte
	file *os.File
}

// Create allocates the shared region and initializes the defaults
// (everything zero, automatic mode enabled). Called once by the
// supervisor before the worker is spawned.
func Create() (*State, error) {
	errFactory := errors.New()

	fd, err := unix.MemfdCreate("clevoctl-state", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errFactory.Wrap(ErrCreateFailed, err)
	}

	if err := unix.Ftruncate(fd, regionSize); err != nil {
		unix.Close(fd)
		return nil, errFactory.Wrap(ErrCreateFailed, err)
	}

	mem, err := unix.Mmap(fd, 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errFactory.Wrap(ErrCreateFailed, err)
	}

	s := &State{mem: mem, file: os.NewFile(uintptr(fd), "clevoctl-state")}
	s.SetAutoMode(true)

	return s, nil
}

// Attach maps an existing shared region from its inherited descriptor.
// Called by the worker process at startup.
func Attach(file *os.File) (*State, error) {
	errFactory := errors.New()

	mem, err := unix.Mmap(int(file.Fd()), 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errFactory.Wrap(ErrAttachFailed, err)
	}

	return &State{mem: mem, file: file}, nil
}

// File returns the backing descriptor, passed to the worker process as
// an inherited fd when it is spawned.
func (s *State) File() *os.File {
	return s.file
}

// Close unmaps this process's view. The region itself lives until every
// process holding it has exited.
func (s *State) Close() error {
	err := unix.Munmap(s.mem)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}

	return err
}

func (s *State) field(off int) *int32 {
	return (*int32)(unsafe.Pointer(&s.mem[off]))
}

func (s *State) load(off int) int {
	return int(atomic.LoadInt32(s.field(off)))
}

func (s *State) store(off, value int) {
	atomic.StoreInt32(s.field(off), int32(value))
}

func (s *State) loadBool(off int) bool {
	return s.load(off) != 0
}

func (s *State) storeBool(off int, value bool) {
	if value {
		s.store(off, 1)
	} else {
		s.store(off, 0)
	}
}

// Supervisor-written fields.

func (s *State) ShouldExit() bool      { return s.loadBool(offShouldExit) }
func (s *State) SetShouldExit()        { s.storeBool(offShouldExit, true) }
func (s *State) AutoModeEnabled() bool { return s.loadBool(offAutoMode) }
func (s *State) SetAutoMode(on bool)   { s.storeBool(offAutoMode, on) }

// ManualDutyRequest returns the pending manual duty, 0 when none.
func (s *State) ManualDutyRequest() int        { return s.load(offManualDuty) }
func (s *State) RequestManualDuty(percent int) { s.store(offManualDuty, percent) }

// Worker-written telemetry fields.

func (s *State) CPUTemp() int        { return s.load(offCPUTemp) }
func (s *State) SetCPUTemp(v int)    { s.store(offCPUTemp, v) }
func (s *State) GPUTemp() int        { return s.load(offGPUTemp) }
func (s *State) SetGPUTemp(v int)    { s.store(offGPUTemp, v) }
func (s *State) CPUFanDuty() int     { return s.load(offCPUFanDuty) }
func (s *State) SetCPUFanDuty(v int) { s.store(offCPUFanDuty, v) }
func (s *State) GPUFanDuty() int     { return s.load(offGPUFanDuty) }
func (s *State) SetGPUFanDuty(v int) { s.store(offGPUFanDuty, v) }
func (s *State) CPUFanRPM() int      { return s.load(offCPUFanRPM) }
func (s *State) SetCPUFanRPM(v int)  { s.store(offCPUFanRPM, v) }
func (s *State) GPUFanRPM() int      { return s.load(offGPUFanRPM) }
func (s *State) SetGPUFanRPM(v int)  { s.store(offGPUFanRPM, v) }

// Worker-only de-duplication memory.

func (s *State) LastAutoCPUDuty() int     { return s.load(offLastAutoCPUDuty) }
func (s *State) SetLastAutoCPUDuty(v int) { s.store(offLastAutoCPUDuty, v) }
func (s *State) LastAutoGPUDuty() int     { return s.load(offLastAutoGPUDuty) }
func (s *State) SetLastAutoGPUDuty(v int) { s.store(offLastAutoGPUDuty, v) }

func (s *State) LastAppliedManualDuty() int     { return s.load(offLastManualApplied) }
func (s *State) SetLastAppliedManualDuty(v int) { s.store(offLastManualApplied, v) }
