package conf

import (
	"fmt"
	"pktcore/internal/flog"
)

const (
	// MaxRecommendedWorkers is the warning threshold past which a larger
	// worker count is unlikely to help and mostly adds context-switch cost.
	MaxRecommendedWorkers = 256
)

// Performance holds the scheduler and block-pool tuning knobs. Values left
// at zero are filled in by SetDefaults from CPU/RAM-scaled formulas, the
// same pattern the autotuning helpers in this package were written for.
type Performance struct {
	// WorkerCount is the number of scheduler workers. 0 autotunes to
	// GOMAXPROCS clamped to [1, 64], raised to 4 for role "server".
	WorkerCount int `yaml:"worker_count"`

	// WorkerQueueCapacity bounds each worker's local priority queue.
	WorkerQueueCapacity int `yaml:"worker_queue_capacity"`

	// StealIntervalMs is the load balancer's steal-attempt period.
	StealIntervalMs int `yaml:"steal_interval_ms"`

	// IdleTimeoutMs is how long an idle worker waits before re-checking for work.
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`

	// SaturationThreshold is the queued-task count, summed over all workers,
	// past which the scheduler emits a poolSaturated event.
	SaturationThreshold int `yaml:"saturation_threshold"`

	// ShutdownTimeoutMs is the per-worker join deadline during shutdown.
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`

	// PoolBlockCount is the default block count for a BlockPool created
	// without an explicit size.
	PoolBlockCount int `yaml:"pool_block_count"`

	// PoolPressureThreshold is a utilization fraction in (0, 1], defaulted
	// and validated here. No BlockPool reads it: a pool's memoryPressure
	// event fires at the fixed memory.PressureThreshold (0.80).
	PoolPressureThreshold float64 `yaml:"pool_pressure_threshold"`

	// CPUAffinity is decoded from the config file, but nothing in this
	// module reads it: setting it does not pin any worker. Per-worker CPU
	// binding is done through sched.Worker.SetAffinity.
	CPUAffinity bool `yaml:"cpu_affinity"`
}

func (p *Performance) setDefaults(role string) {
	cpus := sysCPUCount()

	if p.WorkerCount == 0 {
		p.WorkerCount = clampInt(cpus, 1, 64)
		if role == "server" && p.WorkerCount < 4 {
			p.WorkerCount = 4
		}
	}

	if p.WorkerQueueCapacity == 0 {
		p.WorkerQueueCapacity = 1000
	}

	if p.StealIntervalMs == 0 {
		p.StealIntervalMs = 100
	}

	if p.IdleTimeoutMs == 0 {
		p.IdleTimeoutMs = 100
	}

	if p.SaturationThreshold == 0 {
		p.SaturationThreshold = 500
	}

	if p.ShutdownTimeoutMs == 0 {
		p.ShutdownTimeoutMs = 5000
	}

	if p.PoolBlockCount == 0 {
		ram := sysRAMMB()
		p.PoolBlockCount = nextPowerOf2(clampInt(ram/4, 256, 65536))
	}

	if p.PoolPressureThreshold == 0 {
		p.PoolPressureThreshold = 0.80
	}
}

func (p *Performance) validate() []error {
	var errs []error

	if p.WorkerCount < 1 || p.WorkerCount > 1024 {
		errs = append(errs, fmt.Errorf("worker_count must be between 1 and 1024"))
	}
	if p.WorkerCount > MaxRecommendedWorkers {
		flog.Warnf("worker_count is very high (%d); context-switch overhead may outweigh parallelism", p.WorkerCount)
	}

	if p.WorkerQueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("worker_queue_capacity must be >= 1"))
	}

	if p.StealIntervalMs < 1 || p.StealIntervalMs > 60000 {
		errs = append(errs, fmt.Errorf("steal_interval_ms must be between 1 and 60000"))
	}

	if p.IdleTimeoutMs < 1 || p.IdleTimeoutMs > 60000 {
		errs = append(errs, fmt.Errorf("idle_timeout_ms must be between 1 and 60000"))
	}

	if p.SaturationThreshold < 1 {
		errs = append(errs, fmt.Errorf("saturation_threshold must be >= 1"))
	}

	if p.ShutdownTimeoutMs < 1 {
		errs = append(errs, fmt.Errorf("shutdown_timeout_ms must be >= 1"))
	}

	if p.PoolBlockCount < 1 {
		errs = append(errs, fmt.Errorf("pool_block_count must be >= 1"))
	}

	if p.PoolPressureThreshold <= 0 || p.PoolPressureThreshold > 1 {
		errs = append(errs, fmt.Errorf("pool_pressure_threshold must be in (0, 1]"))
	}

	return errs
}
