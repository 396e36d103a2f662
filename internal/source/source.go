// Package source implements the packet-source state machine and its UDP,
// TCP, pcap-replay, and QUIC implementations. Every source agrees on the
// observability surface: packetReady, error, statisticsUpdated,
// socketStateChanged, emitted through the same events.Emitter abstraction.
package source

import (
	"fmt"
	"sync"

	"pktcore/internal/events"
	"pktcore/internal/packet"
	"pktcore/internal/stats"
)

// PacketSource is the common surface of UdpSource, TcpSource,
// CaptureSource, and QuicSource, letting the application context manage a
// heterogeneous source list uniformly.
type PacketSource interface {
	Name() string
	Start() error
	Stop()
	Pause()
	Resume()
	State() State
}

// State is a PacketSource's lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Paused
	Error
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrorKind tags the error taxonomy from spec §7. It is a stable string,
// not a type, so it can travel in an ErrorEvent without exposing Go types
// across the observability boundary.
type ErrorKind string

const (
	KindConfiguration      ErrorKind = "Configuration"
	KindResourceExhaustion ErrorKind = "ResourceExhaustion"
	KindTransientNetwork   ErrorKind = "TransientNetwork"
	KindProtocol           ErrorKind = "Protocol"
	KindFatal              ErrorKind = "Fatal"
)

// ErrorEvent is emitted exactly once per fatal condition, and may also be
// emitted for loggable non-fatal conditions a caller wants visibility
// into (UDP's log-and-continue transient errors, for instance).
type ErrorEvent struct {
	Kind    ErrorKind
	Message string
}

// PacketReadyEvent carries one successfully framed and factory-built
// packet.
type PacketReadyEvent struct {
	Packet packet.Packet
}

// SocketStateChangedEvent mirrors a State transition for observers that
// only want to watch the lifecycle, not drive it.
type SocketStateChangedEvent struct {
	State State
}

// StatisticsUpdatedEvent carries a statistics snapshot, emitted on the
// source's periodic stats tick.
type StatisticsUpdatedEvent struct {
	Snapshot stats.Snapshot
}

// Base implements the Stopped/Running/Paused/Error state machine and the
// event emitters shared by every concrete source. Concrete sources embed
// Base and implement Start/Stop/Pause/Resume themselves, taking Base's own
// lock (Lock/Unlock) around each transition, matching spec §5's "sources are single-threaded
// internally; lifecycle calls must be serialised by the caller or a
// source-level lock" resource policy.
type Base struct {
	mu    sync.Mutex
	state State
	name  string

	Stats *stats.NetworkStatistics

	PacketReady       *events.Emitter[PacketReadyEvent]
	Err               *events.Emitter[ErrorEvent]
	StatisticsUpdated *events.Emitter[StatisticsUpdatedEvent]
	SocketStateChanged *events.Emitter[SocketStateChangedEvent]

	consecutiveErrors int

	// changeCh is closed and replaced on every transition, letting a
	// receive loop block on a state change (e.g. Paused -> Running)
	// without polling and without touching its socket in the meantime.
	changeCh chan struct{}
}

// NewBase constructs a Base in the Stopped state.
func NewBase(name string) Base {
	return Base{
		name:               name,
		state:              Stopped,
		Stats:              stats.New(),
		PacketReady:        events.NewEmitter[PacketReadyEvent](64),
		Err:                events.NewEmitter[ErrorEvent](16),
		StatisticsUpdated:  events.NewEmitter[StatisticsUpdatedEvent](16),
		SocketStateChanged: events.NewEmitter[SocketStateChangedEvent](16),
		changeCh:           make(chan struct{}),
	}
}

func (b *Base) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition moves to next, emits SocketStateChanged, and wakes any
// waitForStateChange callers. Caller must hold b.mu.
func (b *Base) transition(next State) {
	b.state = next
	close(b.changeCh)
	b.changeCh = make(chan struct{})
	b.SocketStateChanged.Emit(SocketStateChangedEvent{State: next})
}

// waitForStateChange blocks until the lifecycle state next transitions, or
// stopCh fires, without reading from any socket in the meantime. A receive
// loop uses this while Paused so a pending datagram stays kernel-buffered
// instead of being read and discarded.
func (b *Base) waitForStateChange(stopCh <-chan struct{}) {
	b.mu.Lock()
	ch := b.changeCh
	b.mu.Unlock()

	select {
	case <-ch:
	case <-stopCh:
	}
}

// Lock/Unlock expose Base's lock to embedding sources so do_start/do_stop
// can run under the same serialisation as the lifecycle calls, per spec
// §5's single source-level lock.
func (b *Base) Lock()   { b.mu.Lock() }
func (b *Base) Unlock() { b.mu.Unlock() }

// fatal reports a Fatal-kind error and transitions to Error. It does not
// stop a running receive loop: TcpSource's connection loop returns after a
// fatal reconnect failure, but UdpSource's receive loop keeps reading in
// the Error state until Stop. Caller must hold b.mu.
func (b *Base) fatal(message string) {
	b.transition(Error)
	b.Err.Emit(ErrorEvent{Kind: KindFatal, Message: message})
}

// configError reports a Configuration-kind error. Caller must hold b.mu.
func (b *Base) configError(message string) {
	b.transition(Error)
	b.Err.Emit(ErrorEvent{Kind: KindConfiguration, Message: message})
}

// noteProtocolError increments packet_errors and escalates to Fatal after
// maxConsecutive consecutive protocol errors, resetting the streak on any
// success (noteSuccess).
func (b *Base) noteProtocolError(maxConsecutive int, message string) {
	b.Stats.IncPacketErrors()
	b.mu.Lock()
	b.consecutiveErrors++
	escalate := b.consecutiveErrors >= maxConsecutive
	b.mu.Unlock()

	b.Err.Emit(ErrorEvent{Kind: KindProtocol, Message: message})

	if escalate {
		b.mu.Lock()
		if b.state == Running || b.state == Paused {
			b.fatal(fmt.Sprintf("%s: %d consecutive protocol errors, stopping", b.name, maxConsecutive))
		}
		b.mu.Unlock()
	}
}

func (b *Base) noteSuccess() {
	b.mu.Lock()
	b.consecutiveErrors = 0
	b.mu.Unlock()
}
