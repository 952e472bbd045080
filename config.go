package jobs

import "time"

// Config holds configuration for a job manager.
type Config struct {
	// DefaultPermLevel is assigned to job classes registered without an
	// explicit permission level.
	DefaultPermLevel PermLevel

	// StopTimeout is the global budget for a graceful job stop before
	// the stop layer gives up and reports a stop-layer timeout.
	StopTimeout time.Duration

	// SchedulingInterval is the cadence of the manager's scheduling
	// pass over the schedule table.
	SchedulingInterval time.Duration

	// SchedulingYieldRate bounds how many schedule records the pass
	// visits per second before cooperatively yielding.
	SchedulingYieldRate float64

	// SerdeWorkers is the size of the worker pool used to offload
	// schedule blob (de)serialization. The gating semaphore is sized
	// to this value.
	SerdeWorkers int

	// EventQueueSize is the default capacity of a job's event queue.
	EventQueueSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPermLevel:    PermDefault,
		StopTimeout:         30 * time.Second,
		SchedulingInterval:  1 * time.Second,
		SchedulingYieldRate: 500,
		SerdeWorkers:        4,
		EventQueueSize:      256,
	}
}
