package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/clevoctl/internal/ec"
	"codeberg.org/mutker/clevoctl/internal/shmem"
	"codeberg.org/mutker/clevoctl/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dutyWrite struct {
	channel ec.FanChannel
	percent int
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []dutyWrite
}

func (w *fakeWriter) WriteFanDuty(channel ec.FanChannel, percent int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, dutyWrite{channel, percent})
	return nil
}

func (w *fakeWriter) all() []dutyWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]dutyWrite(nil), w.writes...)
}

type fakeReader struct {
	mu       sync.Mutex
	snapshot ec.Snapshot
}

func (r *fakeReader) ReadSnapshot() (*ec.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snapshot
	return &s, nil
}

func (r *fakeReader) set(fill func(s *ec.Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fill(&r.snapshot)
}

func newShared(t *testing.T) *shmem.State {
	t.Helper()

	state, err := shmem.Create()
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	return state
}

func runWorker(t *testing.T, w *worker.Worker) (wait func() error) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	return func() error {
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit in time")
			return nil
		}
	}
}

func TestRunExitsOnShutdownRequest(t *testing.T) {
	shared := newShared(t)
	reader := &fakeReader{}
	reader.set(func(s *ec.Snapshot) { s[ec.RegCPUTemp] = 40 })

	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    &fakeWriter{},
		Snapshots: reader,
		Interval:  5 * time.Millisecond,
	})
	wait := runWorker(t, w)

	time.Sleep(15 * time.Millisecond)
	worker.NewCommands(shared).RequestShutdown()

	require.NoError(t, wait())
	assert.Equal(t, worker.Terminated, w.State())

	// Telemetry was published into the shared state before shutdown.
	assert.Equal(t, 40, shared.CPUTemp())
}

func TestRunAppliesManualDutyOnce(t *testing.T) {
	shared := newShared(t)
	shared.SetAutoMode(false)
	shared.RequestManualDuty(60)

	writer := &fakeWriter{}
	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    writer,
		Snapshots: &fakeReader{},
		Interval:  2 * time.Millisecond,
	})
	wait := runWorker(t, w)

	time.Sleep(30 * time.Millisecond)
	shared.SetShouldExit()
	require.NoError(t, wait())

	// Both channels written exactly once despite many cycles.
	writes := writer.all()
	require.Len(t, writes, 2)
	assert.Equal(t, dutyWrite{ec.FanCPU, 60}, writes[0])
	assert.Equal(t, dutyWrite{ec.FanGPU, 60}, writes[1])
	assert.Equal(t, 60, shared.LastAppliedManualDuty())
}

func TestRunAutoDutyRampUpWithDedup(t *testing.T) {
	shared := newShared(t)
	reader := &fakeReader{}
	reader.set(func(s *ec.Snapshot) {
		s[ec.RegCPUTemp] = 80
		s[ec.RegCPUFanDuty] = 115 // reads back as 45%
		s[ec.RegGPUTemp] = 45
		s[ec.RegGPUFanDuty] = 77 // reads back as 30%, holds
	})

	writer := &fakeWriter{}
	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    writer,
		Snapshots: reader,
		Interval:  2 * time.Millisecond,
	})
	wait := runWorker(t, w)

	time.Sleep(30 * time.Millisecond)
	shared.SetShouldExit()
	require.NoError(t, wait())

	// 80°C against the default CPU curve targets 85%; the GPU axis sits
	// inside its tier band and never fires. The write is deduplicated
	// across cycles through the last-applied memory.
	writes := writer.all()
	require.Len(t, writes, 1)
	assert.Equal(t, dutyWrite{ec.FanCPU, 85}, writes[0])
	assert.Equal(t, 85, shared.LastAutoCPUDuty())
	assert.Zero(t, shared.LastAutoGPUDuty())
}

func TestRunHoldsInsideTierBand(t *testing.T) {
	shared := newShared(t)
	reader := &fakeReader{}
	reader.set(func(s *ec.Snapshot) {
		s[ec.RegCPUTemp] = 45
		s[ec.RegCPUFanDuty] = 90 // reads back as 35%
		s[ec.RegGPUTemp] = 45
		s[ec.RegGPUFanDuty] = 77 // reads back as 30%
	})

	writer := &fakeWriter{}
	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    writer,
		Snapshots: reader,
		Interval:  2 * time.Millisecond,
	})
	wait := runWorker(t, w)

	time.Sleep(30 * time.Millisecond)
	shared.SetShouldExit()
	require.NoError(t, wait())

	// 45°C with 35% duty sits strictly inside the default CPU curve's
	// 40°C tier band: no ramp-up, no ramp-down, no spurious write.
	assert.Empty(t, writer.all())
	assert.Equal(t, 45, shared.CPUTemp())
	assert.Equal(t, 35, shared.CPUFanDuty())
}

func TestRunMonitorModeNeverWrites(t *testing.T) {
	shared := newShared(t)
	shared.RequestManualDuty(70)
	reader := &fakeReader{}
	reader.set(func(s *ec.Snapshot) { s[ec.RegCPUTemp] = 90 })

	writer := &fakeWriter{}
	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    writer,
		Snapshots: reader,
		Interval:  2 * time.Millisecond,
		Monitor:   true,
	})
	wait := runWorker(t, w)

	time.Sleep(20 * time.Millisecond)
	shared.SetShouldExit()
	require.NoError(t, wait())

	assert.Empty(t, writer.all())
	assert.Equal(t, 90, shared.CPUTemp())
}

func TestRunSnapshotUnavailableIsFatal(t *testing.T) {
	shared := newShared(t)

	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    &fakeWriter{},
		Snapshots: ec.NewSnapshotReaderAt(filepath.Join(t.TempDir(), "missing")),
		Interval:  2 * time.Millisecond,
	})

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, ec.IsUnavailable(err))
	assert.Equal(t, worker.Terminated, w.State())
}

func TestRunSkipsCycleOnShortSnapshot(t *testing.T) {
	shared := newShared(t)

	path := filepath.Join(t.TempDir(), "io")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o600))

	writer := &fakeWriter{}
	w := worker.New(worker.Options{
		Shared:    shared,
		Writer:    writer,
		Snapshots: ec.NewSnapshotReaderAt(path),
		Interval:  2 * time.Millisecond,
	})
	wait := runWorker(t, w)

	time.Sleep(20 * time.Millisecond)
	shared.SetShouldExit()
	require.NoError(t, wait())

	// Short reads skip the telemetry update and the auto adjustment but
	// never terminate the loop.
	assert.Empty(t, writer.all())
	assert.Zero(t, shared.CPUTemp())
}
