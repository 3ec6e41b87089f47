package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/clevoctl/internal/errors"
	"codeberg.org/mutker/clevoctl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const insertSnapshotSQL = `
	INSERT INTO fan_telemetry (
		timestamp,
		cpu_temp, cpu_fan_duty, cpu_fan_rpm,
		gpu_temp, gpu_fan_duty, gpu_fan_rpm,
		auto_mode, manual_duty
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(timestamp) DO UPDATE SET
		cpu_temp = excluded.cpu_temp,
		cpu_fan_duty = excluded.cpu_fan_duty,
		cpu_fan_rpm = excluded.cpu_fan_rpm,
		gpu_temp = excluded.gpu_temp,
		gpu_fan_duty = excluded.gpu_fan_duty,
		gpu_fan_rpm = excluded.gpu_fan_rpm,
		auto_mode = excluded.auto_mode,
		manual_duty = excluded.manual_duty
`

type Repository interface {
	Record(snapshot *CycleSnapshot) error
	Close() error
}

type sqliteRepository struct {
	db            *sql.DB
	cfg           Config
	mu            sync.Mutex
	buffer        []*CycleSnapshot
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	// WAL keeps the worker's 200ms cycle from stalling on fsync.
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL&_auto_vacuum=2")
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug().
		Str("path", cfg.DBPath).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	r := &sqliteRepository{
		db:            db,
		cfg:           cfg,
		buffer:        make([]*CycleSnapshot, 0, cfg.BatchSize),
		flushTicker:   time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go r.flusher()

	return r, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fan_telemetry (
			timestamp INTEGER PRIMARY KEY,
			cpu_temp INTEGER,
			cpu_fan_duty INTEGER,
			cpu_fan_rpm INTEGER,
			gpu_temp INTEGER,
			gpu_fan_duty INTEGER,
			gpu_fan_rpm INTEGER,
			auto_mode INTEGER,
			manual_duty INTEGER
		)
	`)
	if err != nil {
		return errors.New().Wrap(ErrStorageInit, err)
	}

	return nil
}

func (r *sqliteRepository) Record(snapshot *CycleSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, snapshot)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()

	close(r.shutdownChan)
	r.flushTicker.Stop()
	<-r.flushDoneChan

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Warn().Err(err).Msg("Failed to checkpoint telemetry WAL")
	}

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

func (r *sqliteRepository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Warn().Err(err).Msg("Telemetry flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Warn().Err(err).Msg("Final telemetry flush failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

// flush writes the buffered snapshots in one transaction. Callers hold r.mu.
func (r *sqliteRepository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		tx.Rollback()
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range r.buffer {
		_, err := stmt.Exec(
			s.Timestamp.Unix(),
			s.CPU.Temp, s.CPU.FanDuty, s.CPU.FanRPM,
			s.GPU.Temp, s.GPU.FanDuty, s.GPU.FanRPM,
			boolToInt(s.AutoMode), s.ManualDuty,
		)
		if err != nil {
			tx.Rollback()
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.buffer = r.buffer[:0]

	return nil
}
