// Package app is the dependency-injection root: one ApplicationContext
// owns the block-pool registry, the scheduler, and every configured packet
// source, wired together explicitly instead of through package-level
// singletons.
package app

import (
	"fmt"
	"time"

	"pktcore/internal/conf"
	"pktcore/internal/flog"
	"pktcore/internal/memory"
	"pktcore/internal/packet"
	"pktcore/internal/sched"
	"pktcore/internal/source"
)

const packetPoolName = "packets"

// ApplicationContext holds the process's one Registry and one Scheduler,
// plus the sources built from a Conf. It does not watch for config
// changes; Init is called once per process lifetime.
type ApplicationContext struct {
	registry  *memory.Registry
	scheduler *sched.Scheduler
	sources   []source.PacketSource
}

// New constructs an empty ApplicationContext. Call Init before Start.
func New() *ApplicationContext {
	return &ApplicationContext{}
}

// Init builds the registry's packet-block pool, builds and starts the
// scheduler, and constructs every configured source wired to a factory
// backed by that pool. It does not start the sources; call Start for that.
func (a *ApplicationContext) Init(cfg *conf.Conf) error {
	a.registry = memory.NewRegistry()

	blockSize := maxPacketSize(cfg)
	pool, err := a.registry.Create(packetPoolName, blockSize, cfg.Performance.PoolBlockCount, packet.HeaderSize)
	if err != nil {
		return fmt.Errorf("app: create packet pool: %w", err)
	}
	factory := packet.NewPoolFactory(pool)

	a.scheduler = sched.New(sched.Config{
		Workers:             cfg.Performance.WorkerCount,
		QueueCapacity:       cfg.Performance.WorkerQueueCapacity,
		IdleTimeout:         msDuration(cfg.Performance.IdleTimeoutMs),
		StealInterval:       msDuration(cfg.Performance.StealIntervalMs),
		ShutdownTimeout:     msDuration(cfg.Performance.ShutdownTimeoutMs),
		SaturationThreshold: cfg.Performance.SaturationThreshold,
		Policy:              sched.WorkStealing,
		WorkStealingEnabled: true,
	})
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("app: start scheduler: %w", err)
	}

	for _, entry := range cfg.Sources {
		src, err := buildSource(entry, factory)
		if err != nil {
			return fmt.Errorf("app: build source %q: %w", entry.Name, err)
		}
		a.sources = append(a.sources, src)
	}

	return nil
}

func buildSource(entry conf.SourceEntry, factory packet.Factory) (source.PacketSource, error) {
	switch entry.Kind {
	case conf.KindUDP:
		return source.NewUdpSource(entry.Name, entry.NetworkConfig, factory, 0), nil
	case conf.KindTCP:
		return source.NewTcpSource(entry.Name, entry.NetworkConfig, factory), nil
	case conf.KindCapture:
		return source.NewCaptureSource(entry.Name, entry.CapturePath, factory, msDuration(entry.ReplayIntervalMs)), nil
	case conf.KindQUIC:
		return source.NewQuicSource(entry.Name, entry.NetworkConfig, factory), nil
	default:
		return nil, fmt.Errorf("unrecognized source kind %q", entry.Kind)
	}
}

// Start starts every configured source. A source that fails to start is
// logged and skipped rather than aborting the others.
func (a *ApplicationContext) Start() {
	for _, src := range a.sources {
		if err := src.Start(); err != nil {
			flog.Errorf("app: source %q failed to start: %v", src.Name(), err)
		}
	}
}

// Sources returns the constructed packet sources.
func (a *ApplicationContext) Sources() []source.PacketSource { return a.sources }

// Scheduler returns the shared worker-pool scheduler.
func (a *ApplicationContext) Scheduler() *sched.Scheduler { return a.scheduler }

// Registry returns the shared block-pool registry.
func (a *ApplicationContext) Registry() *memory.Registry { return a.registry }

// Close stops every source, then the scheduler, then the registry, in
// that order so nothing writes into a pool or submits to a scheduler that
// has already torn down.
func (a *ApplicationContext) Close() {
	for _, src := range a.sources {
		src.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.registry != nil {
		a.registry.Close()
	}
}

func maxPacketSize(cfg *conf.Conf) int {
	max := 1500
	for _, s := range cfg.Sources {
		if s.Performance.MaxPacketSize > max {
			max = s.Performance.MaxPacketSize
		}
	}
	return max
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
