package source

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"pktcore/internal/conf"
	"pktcore/internal/flog"
	"pktcore/internal/packet"
)

// maxConsecutiveErrors is the protocol-error streak that escalates a
// source to Fatal.
const maxConsecutiveErrors = 10

// rateWindowMs is the width of the packet-rate shaper's sampling window.
const rateWindowMs = 100

// pauseCheckInterval bounds how long a read can block before the receive
// loop re-checks Paused. It must stay short so a Pause() call takes effect
// promptly instead of leaving one more datagram in flight to userspace.
const pauseCheckInterval = 100 * time.Millisecond

// UdpSource ingests one packet per UDP datagram. Receipt is driven by
// socket readiness (a dedicated goroutine blocking on ReadFromUDP), not
// polling; pause drops readiness events silently rather than queuing them.
type UdpSource struct {
	Base

	cfg     conf.NetworkConfig
	factory packet.Factory

	conn     *net.UDPConn
	pconn    *ipv4.PacketConn // non-nil when multicast is joined
	stopCh   chan struct{}
	doneCh   chan struct{}

	rateMu        sync.Mutex
	windowStart   time.Time
	windowCount   int
	dropRest      bool
	maxPacketRate int // 0 = unlimited
}

// NewUdpSource constructs a UDP source in the Stopped state. cfg must
// already be defaulted and validated (conf.NetworkConfig.SetDefaults /
// Validate).
var _ PacketSource = (*UdpSource)(nil)

func NewUdpSource(name string, cfg conf.NetworkConfig, factory packet.Factory, maxPacketRate int) *UdpSource {
	return &UdpSource{
		Base:          NewBase(name),
		cfg:           cfg,
		factory:       factory,
		maxPacketRate: maxPacketRate,
	}
}

// Start transitions Stopped -> Running (or -> Error on fatal setup
// failure).
func (s *UdpSource) Start() error {
	s.Lock()
	defer s.Unlock()

	if s.state != Stopped {
		return fmt.Errorf("%s: Start called from state %s, want Stopped", s.name, s.state)
	}

	if err := s.doStart(); err != nil {
		s.fatal(err.Error())
		return err
	}
	s.transition(Running)
	return nil
}

func (s *UdpSource) doStart() error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.LocalAddr), Port: int(s.cfg.LocalPort)}
	lc := net.ListenConfig{Control: setReuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		return fmt.Errorf("udp source %s: bind %s: %w", s.name, addr, err)
	}
	conn := pc.(*net.UDPConn)
	s.conn = conn

	if s.cfg.Performance.ReceiveBufferSize > 0 {
		if err := conn.SetReadBuffer(s.cfg.Performance.ReceiveBufferSize); err != nil {
			flog.Warnf("udp source %s: SetReadBuffer(%d): %v", s.name, s.cfg.Performance.ReceiveBufferSize, err)
		}
	}

	if s.cfg.Multicast.Enable {
		s.joinMulticast(conn)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.receiveLoop()
	go s.statsTick()

	return nil
}

// joinMulticast is best-effort: failure to join, or to resolve a named
// interface, falls back to unicast/the kernel default interface with a
// warning rather than failing Start, per Design Notes §9's "forgiving
// multicast" behaviour.
func (s *UdpSource) joinMulticast(conn *net.UDPConn) {
	group := net.ParseIP(s.cfg.Multicast.Group)
	if group == nil || !group.IsMulticast() {
		flog.Warnf("udp source %s: multicast enabled with invalid group %q, skipping join", s.name, s.cfg.Multicast.Group)
		return
	}

	pconn := ipv4.NewPacketConn(conn)

	var iface *net.Interface
	if s.cfg.InterfaceName != "" {
		ifc, err := net.InterfaceByName(s.cfg.InterfaceName)
		if err != nil {
			flog.Warnf("udp source %s: interface %q not found, falling back to kernel default: %v", s.name, s.cfg.InterfaceName, err)
		} else {
			iface = ifc
		}
	}

	if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
		flog.Warnf("udp source %s: JoinGroup(%s) failed, continuing unicast: %v", s.name, group, err)
		return
	}
	_ = pconn.SetMulticastLoopback(false)
	if s.cfg.Multicast.TTL > 0 {
		_ = pconn.SetMulticastTTL(s.cfg.Multicast.TTL)
	}
	s.pconn = pconn
}

func (s *UdpSource) receiveLoop() {
	defer close(s.doneCh)

	buf := make([]byte, s.cfg.Performance.MaxPacketSize)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		// Check Paused before ever touching the socket: a paused source
		// must leave the datagram kernel-buffered, not read-then-discard
		// it in userspace.
		if s.State() == Paused {
			s.waitForStateChange(s.stopCh)
			continue
		}

		s.conn.SetReadDeadline(time.Now().Add(pauseCheckInterval))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue // no datagram arrived in this window; re-check Paused/stopCh
			}
			if flog.WErr(err) == nil {
				return
			}
			s.Stats.IncSocketErrors()
			s.noteProtocolError(maxConsecutiveErrors, fmt.Sprintf("udp source %s: read error: %v", s.name, err))
			continue
		}

		if s.shouldDrop() {
			s.Stats.IncPacketsDropped()
			continue
		}

		if n < packet.HeaderSize {
			s.noteProtocolError(maxConsecutiveErrors, fmt.Sprintf("udp source %s: datagram of %d bytes shorter than header", s.name, n))
			continue
		}

		start := time.Now()
		pkt, err := s.factory.CreateFromRaw(buf[:n])
		if err != nil {
			s.noteProtocolError(maxConsecutiveErrors, fmt.Sprintf("udp source %s: factory error: %v", s.name, err))
			continue
		}

		s.noteSuccess()
		s.Stats.RecordPacket(n, time.Since(start))
		s.PacketReady.Emit(PacketReadyEvent{Packet: pkt})
	}
}

// shouldDrop implements the 100ms-window rate shaper: rate =
// packets_in_window*1000/elapsed_ms; crossing max_packet_rate drops every
// packet in the next window, not just the one that crossed it.
func (s *UdpSource) shouldDrop() bool {
	if s.maxPacketRate <= 0 {
		return false
	}

	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	now := time.Now()
	if s.windowStart.IsZero() {
		s.windowStart = now
	}
	elapsedMs := now.Sub(s.windowStart).Milliseconds()

	if elapsedMs >= rateWindowMs {
		rate := s.windowCount * 1000 / int(elapsedMs)
		s.dropRest = rate > s.maxPacketRate
		s.windowStart = now
		s.windowCount = 0
	}

	s.windowCount++
	return s.dropRest
}

func (s *UdpSource) statsTick() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.StatisticsUpdated.Emit(StatisticsUpdatedEvent{Snapshot: s.Stats.Snapshot()})
		}
	}
}

// Stop transitions {Running,Paused,Error} -> Stopped.
func (s *UdpSource) Stop() {
	s.Lock()
	if s.state == Stopped {
		s.Unlock()
		return
	}
	s.doStop()
	s.transition(Stopped)
	s.Unlock()
}

func (s *UdpSource) doStop() {
	close(s.stopCh)
	if s.pconn != nil {
		group := net.ParseIP(s.cfg.Multicast.Group)
		if err := s.pconn.LeaveGroup(nil, &net.UDPAddr{IP: group}); err != nil {
			flog.Warnf("udp source %s: LeaveGroup failed, continuing shutdown: %v", s.name, err)
		}
		s.pconn = nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
	<-s.doneCh
}

// Pause transitions Running -> Paused.
func (s *UdpSource) Pause() {
	s.Lock()
	defer s.Unlock()
	if s.state == Running {
		s.transition(Paused)
	}
}

// Resume transitions Paused -> Running.
func (s *UdpSource) Resume() {
	s.Lock()
	defer s.Unlock()
	if s.state == Paused {
		s.transition(Running)
	}
}
