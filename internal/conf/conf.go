package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"pktcore/internal/flog"
)

// Log configures the flog writer level. Level is a name ("debug", "info",
// "warn", "error", "fatal", "none") rather than flog's raw int, so config
// files stay readable.
type Log struct {
	Level string `yaml:"level"`
}

// LevelValue maps Level to the int flog.SetLevel expects, defaulting to
// Info on an empty or unrecognized name.
func (l Log) LevelValue() int {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return int(flog.Debug)
	case "", "info":
		return int(flog.Info)
	case "warn", "warning":
		return int(flog.Warn)
	case "error":
		return int(flog.Error)
	case "fatal":
		return int(flog.Fatal)
	case "none":
		return int(flog.None)
	default:
		return int(flog.Info)
	}
}

// Conf is the top-level configuration file shape: one role, one log
// setting, a list of packet sources, and the scheduler/pool tuning block.
type Conf struct {
	Role        string        `yaml:"role"`
	Log         Log           `yaml:"log"`
	Sources     []SourceEntry `yaml:"sources"`
	Performance Performance   `yaml:"performance"`
}

// SourceEntry wraps a NetworkConfig with the source-kind selector that
// picks which concrete source implementation the application context
// builds. Kind lives here, outside NetworkConfig, instead of extending
// protocol's UDP/TCP enum: CaptureSource and QuicSource both reuse
// NetworkConfig's existing fields unchanged.
type SourceEntry struct {
	NetworkConfig `yaml:",inline"`

	// Kind selects the concrete source: "udp", "tcp", "capture", or
	// "quic". Empty defaults to the normalized Protocol ("udp"/"tcp").
	Kind string `yaml:"kind"`

	// CapturePath is the .pcap/.pcapng file read by a capture source.
	CapturePath string `yaml:"capture_path,omitempty"`

	// ReplayIntervalMs paces a capture source's replay; 0 reads as fast
	// as the file can be decoded.
	ReplayIntervalMs int `yaml:"replay_interval_ms,omitempty"`
}

const (
	KindUDP     = "udp"
	KindTCP     = "tcp"
	KindCapture = "capture"
	KindQUIC    = "quic"
)

// SetDefaults normalizes Kind and defers the rest to NetworkConfig.
func (s *SourceEntry) SetDefaults() {
	s.NetworkConfig.SetDefaults()
	if s.Kind == "" {
		s.Kind = strings.ToLower(s.Protocol)
	}
}

// Validate dispatches to the bounds relevant to Kind: a capture source
// never binds a socket, so it skips NetworkConfig's protocol/port switch
// but keeps the shared buffer/packet-size and multicast checks.
func (s *SourceEntry) Validate() []error {
	switch s.Kind {
	case KindCapture:
		var errs []error
		if s.CapturePath == "" {
			errs = append(errs, fmt.Errorf("source %q: capture_path must be set for kind=capture", s.Name))
		}
		errs = append(errs, s.validatePerfAndMulticast()...)
		return errs
	case KindQUIC:
		if s.LocalPort == 0 {
			return []error{fmt.Errorf("quic source %q: local_port must be nonzero", s.Name)}
		}
		return s.validatePerfAndMulticast()
	default:
		return s.NetworkConfig.Validate()
	}
}

// SetDefaults fills in every zero-valued field across Conf and its nested
// sources. Call before Validate.
func (c *Conf) SetDefaults() {
	if c.Role == "" {
		c.Role = "monitor"
	}
	c.Performance.setDefaults(c.Role)
	for i := range c.Sources {
		c.Sources[i].SetDefaults()
	}
}

// Validate aggregates every error from Performance and each configured
// source, plus the cross-cutting rule that at least one source must exist.
func (c *Conf) Validate() []error {
	var errs []error
	errs = append(errs, c.Performance.validate()...)
	for i := range c.Sources {
		errs = append(errs, c.Sources[i].Validate()...)
	}
	if len(c.Sources) == 0 {
		errs = append(errs, fmt.Errorf("at least one source must be configured"))
	}
	return errs
}

// LoadFromFile reads, decodes, defaults, and validates a YAML config file.
func LoadFromFile(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Conf
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.SetDefaults()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %w", path, errors.Join(errs...))
	}

	return &cfg, nil
}
