package telemetry_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/clevoctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) telemetry.Config {
	t.Helper()

	cfg := telemetry.DefaultConfig(filepath.Join(t.TempDir(), "telemetry.db"))
	cfg.BatchSize = 2

	return cfg
}

func snapshotAt(ts time.Time, cpuTemp int) *telemetry.CycleSnapshot {
	return &telemetry.CycleSnapshot{
		Timestamp:  ts,
		CPU:        telemetry.AxisMetrics{Temp: cpuTemp, FanDuty: 45, FanRPM: 2100},
		GPU:        telemetry.AxisMetrics{Temp: cpuTemp + 5, FanDuty: 35, FanRPM: 1800},
		AutoMode:   true,
		ManualDuty: 0,
	}
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, telemetry.Config{}.Validate())
	assert.Error(t, telemetry.Config{DBPath: "/tmp/x.db"}.Validate())
	assert.NoError(t, telemetry.DefaultConfig("/tmp/x.db").Validate())
}

func TestRecordFlushesBatch(t *testing.T) {
	cfg := testConfig(t)

	svc, err := telemetry.NewService(cfg)
	require.NoError(t, err)

	base := time.Now().Truncate(time.Second)
	ctx := context.Background()

	// BatchSize is 2: the second record triggers a flush.
	require.NoError(t, svc.Record(ctx, snapshotAt(base, 45)))
	require.NoError(t, svc.Record(ctx, snapshotAt(base.Add(time.Second), 47)))
	require.NoError(t, svc.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var count, temp int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM fan_telemetry").Scan(&count))
	assert.Equal(t, 2, count)

	require.NoError(t, db.QueryRow(
		"SELECT cpu_temp FROM fan_telemetry WHERE timestamp = ?", base.Unix(),
	).Scan(&temp))
	assert.Equal(t, 45, temp)
}

func TestCloseFlushesRemainder(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100

	svc, err := telemetry.NewService(cfg)
	require.NoError(t, err)

	require.NoError(t, svc.Record(context.Background(), snapshotAt(time.Now(), 50)))
	require.NoError(t, svc.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM fan_telemetry").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecordNilSnapshot(t *testing.T) {
	svc, err := telemetry.NewService(testConfig(t))
	require.NoError(t, err)
	defer svc.Close()

	assert.Error(t, svc.Record(context.Background(), nil))
}
