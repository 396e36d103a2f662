// Package stats implements NetworkStatistics: the atomic counters and
// derived rates a source exposes. Reads are snapshots without coherence
// across fields, matching the relaxed-atomics resource policy every
// counter in this system follows.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// emaAlpha is the smoothing factor for the latency EMA.
const emaAlpha = 0.1

// rateWindow is the width of the instantaneous-rate sampling window.
const rateWindow = time.Second

// Snapshot is a point-in-time, field-incoherent read of NetworkStatistics.
type Snapshot struct {
	PacketsReceived uint64
	BytesReceived   uint64
	PacketsDropped  uint64
	PacketErrors    uint64
	SocketErrors    uint64
	Reconnections   uint64
	ConnectionDrops uint64

	LatencyUs float64

	// PacketRate is the cumulative mean: packets_received / seconds since
	// start. InstantaneousPacketRate is a separate rolling-window gauge.
	// The original conflated these under one name; this system keeps both
	// rather than silently picking one.
	PacketRate              float64
	InstantaneousPacketRate float64
	ByteRate                float64

	StartTime      time.Time
	LastPacketTime time.Time
}

// NetworkStatistics accumulates per-source counters. All counter updates
// are atomic; Snapshot composes independent atomic reads and is therefore
// eventually consistent, not a coherent point-in-time view.
type NetworkStatistics struct {
	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsDropped  atomic.Uint64
	packetErrors    atomic.Uint64
	socketErrors    atomic.Uint64
	reconnections   atomic.Uint64
	connectionDrops atomic.Uint64

	latencyBits atomic.Uint64 // float64 latency EMA, bit-punned for atomic access

	startTime      time.Time
	lastPacketTime atomic.Int64 // UnixNano, 0 if no packet yet

	windowMu        sync.Mutex
	windowStart     time.Time
	windowPackets   uint64
	windowBytes     uint64
	instPacketRate  atomic.Uint64 // float64 bit-punned
	instByteRate    atomic.Uint64 // float64 bit-punned
}

// New creates a NetworkStatistics with StartTime set to now.
func New() *NetworkStatistics {
	now := time.Now()
	s := &NetworkStatistics{startTime: now, windowStart: now}
	return s
}

// RecordPacket records one received packet of n bytes with the given
// end-to-end latency, updating the latency EMA and the rolling-window
// rate gauges.
func (s *NetworkStatistics) RecordPacket(n int, latency time.Duration) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(n))
	now := time.Now()
	s.lastPacketTime.Store(now.UnixNano())

	s.updateLatencyEMA(float64(latency.Microseconds()))
	s.updateWindow(now, 1, uint64(n))
}

func (s *NetworkStatistics) updateLatencyEMA(sampleUs float64) {
	for {
		old := s.latencyBits.Load()
		oldVal := float64frombits(old)
		var newVal float64
		if oldVal == 0 {
			newVal = sampleUs
		} else {
			newVal = emaAlpha*sampleUs + (1-emaAlpha)*oldVal
		}
		if s.latencyBits.CompareAndSwap(old, float64bits(newVal)) {
			return
		}
	}
}

func (s *NetworkStatistics) updateWindow(now time.Time, packets, bytes uint64) {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	s.windowPackets += packets
	s.windowBytes += bytes

	elapsed := now.Sub(s.windowStart)
	if elapsed >= rateWindow {
		secs := elapsed.Seconds()
		s.instPacketRate.Store(float64bits(float64(s.windowPackets) / secs))
		s.instByteRate.Store(float64bits(float64(s.windowBytes) / secs))
		s.windowStart = now
		s.windowPackets = 0
		s.windowBytes = 0
	}
}

func (s *NetworkStatistics) IncPacketsDropped()  { s.packetsDropped.Add(1) }
func (s *NetworkStatistics) IncPacketErrors()    { s.packetErrors.Add(1) }
func (s *NetworkStatistics) IncSocketErrors()    { s.socketErrors.Add(1) }
func (s *NetworkStatistics) IncReconnections()   { s.reconnections.Add(1) }
func (s *NetworkStatistics) IncConnectionDrops() { s.connectionDrops.Add(1) }

// Snapshot takes an eventually-consistent read of every field.
func (s *NetworkStatistics) Snapshot() Snapshot {
	var lastPacket time.Time
	if ns := s.lastPacketTime.Load(); ns != 0 {
		lastPacket = time.Unix(0, ns)
	}

	elapsed := time.Since(s.startTime).Seconds()
	received := s.packetsReceived.Load()
	var cumulativeRate float64
	if elapsed > 0 {
		cumulativeRate = float64(received) / elapsed
	}

	return Snapshot{
		PacketsReceived:         received,
		BytesReceived:           s.bytesReceived.Load(),
		PacketsDropped:          s.packetsDropped.Load(),
		PacketErrors:            s.packetErrors.Load(),
		SocketErrors:            s.socketErrors.Load(),
		Reconnections:           s.reconnections.Load(),
		ConnectionDrops:         s.connectionDrops.Load(),
		LatencyUs:               float64frombits(s.latencyBits.Load()),
		PacketRate:              cumulativeRate,
		InstantaneousPacketRate: float64frombits(s.instPacketRate.Load()),
		ByteRate:                float64frombits(s.instByteRate.Load()),
		StartTime:               s.startTime,
		LastPacketTime:          lastPacket,
	}
}
