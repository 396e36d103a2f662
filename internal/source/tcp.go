package source

import (
	"context"
	"fmt"
	"net"
	"time"

	"pktcore/internal/conf"
	"pktcore/internal/flog"
	"pktcore/internal/packet"
)

// connState is the TCP connection sub-state machine, independent of the
// PacketSource lifecycle state: a TcpSource can be Running while its
// connection cycles through Disconnected/Connecting/Reconnecting.
type connState int

const (
	connDisconnected connState = iota
	connConnecting
	connConnected
	connReconnecting
	connFailed
)

// TcpSource ingests a stream of back-to-back packets framed purely by
// header_size+payload_size, reconnecting on transient failure up to a
// configured budget.
type TcpSource struct {
	Base

	cfg     conf.NetworkConfig
	factory packet.Factory

	conn      net.Conn
	connState connState
	attempts  int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTcpSource constructs a TCP source in the Stopped state.
var _ PacketSource = (*TcpSource)(nil)

func NewTcpSource(name string, cfg conf.NetworkConfig, factory packet.Factory) *TcpSource {
	return &TcpSource{Base: NewBase(name), cfg: cfg, factory: factory}
}

func (s *TcpSource) Start() error {
	s.Lock()
	defer s.Unlock()

	if s.state != Stopped {
		return fmt.Errorf("%s: Start called from state %s, want Stopped", s.name, s.state)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.attempts = 0
	s.transition(Running)

	go s.connectionLoop()
	go s.statsTick()
	return nil
}

// connectionLoop owns connState and drives connect -> read -> reconnect
// on this source's single goroutine, matching spec §5's "sources are
// single-threaded internally" policy.
func (s *TcpSource) connectionLoop() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.setConnState(connConnecting)
		conn, err := s.connect()
		if err != nil {
			if !s.scheduleReconnect(err.Error()) {
				return
			}
			continue
		}

		s.Lock()
		s.conn = conn
		s.Unlock()
		s.setConnState(connConnected)
		reason := s.readLoop(conn)
		conn.Close()
		s.Lock()
		s.conn = nil
		s.Unlock()

		if reason == "" {
			return // stopCh closed during readLoop
		}
		if !s.scheduleReconnect(reason) {
			return
		}
	}
}

func (s *TcpSource) connect() (net.Conn, error) {
	timeout := time.Duration(s.cfg.Connection.ConnectTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", s.cfg.RemoteAddr, s.cfg.RemotePort)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if s.cfg.Connection.KeepaliveEnable {
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(time.Duration(s.cfg.Connection.KeepaliveIntervalS) * time.Second)
		}
	}
	return conn, nil
}

// scheduleReconnect implements the Disconnected/error -> Reconnecting ->
// retry-after-interval policy, or Failed + fatal error once the
// reconnect budget is exhausted. Returns false if the source should stop
// retrying (either the budget is exhausted or stopCh fired).
func (s *TcpSource) scheduleReconnect(reason string) bool {
	s.attempts++
	s.Stats.IncConnectionDrops()

	if s.attempts > s.cfg.Connection.MaxReconnectAttempts {
		s.setConnState(connFailed)
		s.Lock()
		s.fatal(fmt.Sprintf("tcp source %s: reconnect budget exhausted after %d attempts: %s", s.name, s.attempts-1, reason))
		s.Unlock()
		return false
	}

	s.Stats.IncReconnections()
	s.setConnState(connReconnecting)
	flog.Warnf("tcp source %s: connection lost (%s), retrying in %dms (attempt %d/%d)",
		s.name, reason, s.cfg.Connection.ReconnectIntervalMs, s.attempts, s.cfg.Connection.MaxReconnectAttempts)

	select {
	case <-s.stopCh:
		return false
	case <-time.After(time.Duration(s.cfg.Connection.ReconnectIntervalMs) * time.Millisecond):
		return true
	}
}

// readLoop accumulates bytes into buf and frames packets per spec §4.6.
// Returns "" if stopCh fired, or a non-empty reason for any other exit
// (peer close, read error, resynchronisation fault) that should trigger
// reconnection.
func (s *TcpSource) readLoop(conn net.Conn) string {
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 64*1024)

	for {
		select {
		case <-s.stopCh:
			return ""
		default:
		}

		n, err := conn.Read(chunk)
		if err != nil {
			if flog.WErr(err) == nil {
				return "" // treated as a clean stop, not a fault worth reconnecting over
			}
			s.Stats.IncSocketErrors()
			return err.Error()
		}
		buf = append(buf, chunk[:n]...)

		for {
			if len(buf) < packet.HeaderSize {
				break
			}
			hdr, err := packet.DecodeHeader(buf)
			if err != nil {
				return err.Error()
			}
			if int(hdr.PayloadSize) > s.cfg.Performance.MaxPacketSize {
				s.Stats.IncPacketErrors()
				return fmt.Sprintf("resynchronisation fault: payload_size %d exceeds max_packet_size %d", hdr.PayloadSize, s.cfg.Performance.MaxPacketSize)
			}

			frameLen := packet.HeaderSize + int(hdr.PayloadSize)
			if len(buf) < frameLen {
				break
			}

			start := time.Now()
			pkt, err := s.factory.CreateFromRaw(buf[:frameLen])
			buf = buf[frameLen:]
			if err != nil {
				s.noteProtocolError(maxConsecutiveErrors, fmt.Sprintf("tcp source %s: factory error: %v", s.name, err))
				continue
			}
			s.noteSuccess()
			s.Stats.RecordPacket(frameLen, time.Since(start))
			s.PacketReady.Emit(PacketReadyEvent{Packet: pkt})
		}

		if len(buf) > 2*cap(chunk) {
			// buf is growing unbounded without ever completing a frame;
			// treat it the same as a malformed header rather than let it
			// grow forever.
			return "accumulation buffer exceeded bound without completing a frame"
		}
	}
}

func (s *TcpSource) setConnState(cs connState) {
	s.Lock()
	s.connState = cs
	s.Unlock()
}

func (s *TcpSource) statsTick() {
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
func (s *TcpSource) Stop() {
	s.Lock()
	if s.state == Stopped {
		s.Unlock()
		return
	}
	s.Unlock()

	close(s.stopCh)
	// Closing the connection unblocks a readLoop parked in conn.Read, so
	// connectionLoop can see stopCh and return.
	s.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.Unlock()
	<-s.doneCh

	s.Lock()
	s.transition(Stopped)
	s.Unlock()
}

func (s *TcpSource) Pause() {
	s.Lock()
	defer s.Unlock()
	if s.state == Running {
		s.transition(Paused)
	}
}

func (s *TcpSource) Resume() {
	s.Lock()
	defer s.Unlock()
	if s.state == Paused {
		s.transition(Running)
	}
}
