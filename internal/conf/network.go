package conf

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
)

// Multicast holds the UDP multicast-join options for a NetworkConfig.
type Multicast struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Group  string `yaml:"group" json:"group"`
	TTL    int    `yaml:"ttl" json:"ttl"`
}

// NetPerf holds the socket/IO tuning options for a NetworkConfig.
type NetPerf struct {
	ReceiveBufferSize  int  `yaml:"receive_buffer_size" json:"receive_buffer_size"`
	SocketTimeoutMs    int  `yaml:"socket_timeout_ms" json:"socket_timeout_ms"`
	MaxPacketSize      int  `yaml:"max_packet_size" json:"max_packet_size"`
	EnableTimestamping bool `yaml:"enable_timestamping" json:"enable_timestamping"`
}

// QoS holds the type-of-service / scheduling-priority hints for a socket.
type QoS struct {
	TOS      int `yaml:"tos" json:"tos"`
	Priority int `yaml:"priority" json:"priority"`
}

// Connection holds TCP-only keepalive and reconnect options. They are
// ignored for a UDP NetworkConfig but still round-trip unchanged.
type Connection struct {
	KeepaliveEnable      bool `yaml:"keepalive_enable" json:"keepalive_enable"`
	KeepaliveIntervalS   int  `yaml:"keepalive_interval_s" json:"keepalive_interval_s"`
	ConnectTimeoutMs     int  `yaml:"connect_timeout_ms" json:"connect_timeout_ms"`
	MaxReconnectAttempts int  `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	ReconnectIntervalMs  int  `yaml:"reconnect_interval_ms" json:"reconnect_interval_ms"`
}

// NetworkConfig describes one packet source's binding, framing, and
// transport tuning. Fields are exactly the recognised options of the
// ingestion core; unknown YAML/JSON keys are ignored by the decoder, not
// rejected, matching the teacher's forgiving config style.
type NetworkConfig struct {
	Name          string `yaml:"name" json:"name"`
	Protocol      string `yaml:"protocol" json:"protocol"`
	LocalAddr     string `yaml:"local_addr" json:"local_addr"`
	LocalPort     uint16 `yaml:"local_port" json:"local_port"`
	RemoteAddr    string `yaml:"remote_addr" json:"remote_addr"`
	RemotePort    uint16 `yaml:"remote_port" json:"remote_port"`
	InterfaceName string `yaml:"interface_name,omitempty" json:"interface_name,omitempty"`

	Multicast   Multicast  `yaml:"multicast" json:"multicast"`
	Performance NetPerf    `yaml:"performance" json:"performance"`
	QoS         QoS        `yaml:"qos" json:"qos"`
	Connection  Connection `yaml:"connection" json:"connection"`
}

const (
	minReceiveBufferSize = 1024
	maxReceiveBufferSize = 67108864
	minMaxPacketSize     = 64
	maxMaxPacketSize     = 65536
)

// normalizeProtocol upper-cases a protocol string and falls back to UDP on
// anything it doesn't recognise, per spec: "the case-insensitive string
// 'UDP' or 'TCP' (default UDP on unknown input)".
func normalizeProtocol(p string) string {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "TCP":
		return "TCP"
	default:
		return "UDP"
	}
}

// SetDefaults fills in zero-valued fields with sensible defaults. It must
// run before Validate — validate only checks bounds, it does not supply
// values.
func (c *NetworkConfig) SetDefaults() {
	c.Protocol = normalizeProtocol(c.Protocol)

	if c.Performance.ReceiveBufferSize == 0 {
		c.Performance.ReceiveBufferSize = clampInt(2*1024*1024, minReceiveBufferSize, maxReceiveBufferSize)
	}
	if c.Performance.SocketTimeoutMs == 0 {
		c.Performance.SocketTimeoutMs = 1000
	}
	if c.Performance.MaxPacketSize == 0 {
		c.Performance.MaxPacketSize = clampInt(1500, minMaxPacketSize, maxMaxPacketSize)
	}

	if c.Multicast.Enable && c.Multicast.TTL == 0 {
		c.Multicast.TTL = 1
	}

	if c.Protocol == "TCP" {
		if c.Connection.ConnectTimeoutMs == 0 {
			c.Connection.ConnectTimeoutMs = 5000
		}
		if c.Connection.MaxReconnectAttempts == 0 {
			c.Connection.MaxReconnectAttempts = 5
		}
		if c.Connection.ReconnectIntervalMs == 0 {
			c.Connection.ReconnectIntervalMs = 1000
		}
		if c.Connection.KeepaliveEnable && c.Connection.KeepaliveIntervalS == 0 {
			c.Connection.KeepaliveIntervalS = 30
		}
	}
}

// Validate checks the bounds and cross-field rules from the data model.
// Run SetDefaults first; Validate never mutates c.
func (c *NetworkConfig) Validate() []error {
	var errs []error

	switch c.Protocol {
	case "UDP":
		if c.LocalPort == 0 {
			errs = append(errs, fmt.Errorf("udp source %q: local_port must be nonzero", c.Name))
		}
	case "TCP":
		if c.RemotePort == 0 {
			errs = append(errs, fmt.Errorf("tcp source %q: remote_port must be nonzero", c.Name))
		}
	default:
		errs = append(errs, fmt.Errorf("source %q: protocol must be UDP or TCP, got %q", c.Name, c.Protocol))
	}

	errs = append(errs, c.validatePerfAndMulticast()...)
	return errs
}

// validatePerfAndMulticast checks the bounds a NetworkConfig enforces
// regardless of protocol, split out so CaptureSource configs (which skip
// the protocol/port switch above) still get buffer/packet-size and
// multicast validation.
func (c *NetworkConfig) validatePerfAndMulticast() []error {
	var errs []error

	if c.Performance.ReceiveBufferSize < minReceiveBufferSize || c.Performance.ReceiveBufferSize > maxReceiveBufferSize {
		errs = append(errs, fmt.Errorf("source %q: receive_buffer_size must be in [%d, %d], got %d",
			c.Name, minReceiveBufferSize, maxReceiveBufferSize, c.Performance.ReceiveBufferSize))
	}
	if c.Performance.MaxPacketSize < minMaxPacketSize || c.Performance.MaxPacketSize > maxMaxPacketSize {
		errs = append(errs, fmt.Errorf("source %q: max_packet_size must be in [%d, %d], got %d",
			c.Name, minMaxPacketSize, maxMaxPacketSize, c.Performance.MaxPacketSize))
	}

	if c.Multicast.Enable {
		ip := net.ParseIP(c.Multicast.Group)
		if ip == nil || !ip.IsMulticast() {
			errs = append(errs, fmt.Errorf("source %q: multicast.group %q is not in 224.0.0.0/4", c.Name, c.Multicast.Group))
		}
	}

	return errs
}

// IsValid reports whether c passes Validate with no errors.
func IsValid(c NetworkConfig) bool {
	return len(c.Validate()) == 0
}

// ToJSON renders c into the key-addressed JSON form described by the
// external interface: top-level identification/addressing fields plus the
// multicast/performance/qos/connection nested groups.
func ToJSON(c NetworkConfig) ([]byte, error) {
	return json.Marshal(c)
}

// FromJSON parses the JSON form produced by ToJSON back into a
// NetworkConfig. FromJSON(ToJSON(c)) == c for every valid c.
func FromJSON(data []byte) (NetworkConfig, error) {
	var c NetworkConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return NetworkConfig{}, err
	}
	return c, nil
}
