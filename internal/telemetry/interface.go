package telemetry

import (
	"context"
	"time"
)

// Collector records control-cycle snapshots for later analysis.
type Collector interface {
	Record(ctx context.Context, snapshot *CycleSnapshot) error
	Close() error
}

// CycleSnapshot is the telemetry captured at the end of one worker cycle.
type CycleSnapshot struct {
	Timestamp  time.Time
	CPU        AxisMetrics
	GPU        AxisMetrics
	AutoMode   bool
	ManualDuty int
}

// AxisMetrics holds one cooling zone's readings.
type AxisMetrics struct {
	Temp    int
	FanDuty int
	FanRPM  int
}
