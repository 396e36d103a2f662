package conf

import (
	"reflect"
	"testing"
)

func TestNetworkConfigJSONRoundTrip(t *testing.T) {
	c := NetworkConfig{
		Name:       "primary",
		Protocol:   "UDP",
		LocalAddr:  "0.0.0.0",
		LocalPort:  9000,
		RemoteAddr: "10.0.0.5",
		RemotePort: 9001,
		Multicast:  Multicast{Enable: true, Group: "239.1.1.1", TTL: 4},
		Performance: NetPerf{
			ReceiveBufferSize:  4 * 1024 * 1024,
			SocketTimeoutMs:    500,
			MaxPacketSize:      1500,
			EnableTimestamping: true,
		},
		QoS: QoS{TOS: 16, Priority: 3},
		Connection: Connection{
			KeepaliveEnable:      true,
			KeepaliveIntervalS:   30,
			ConnectTimeoutMs:     5000,
			MaxReconnectAttempts: 5,
			ReconnectIntervalMs:  1000,
		},
	}

	data, err := ToJSON(c)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if !reflect.DeepEqual(c, got) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, c)
	}
}

func TestNetworkConfigSetDefaultsProtocol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"udp", "UDP"},
		{"UDP", "UDP"},
		{"tcp", "TCP"},
		{"TCP", "TCP"},
		{"", "UDP"},
		{"sctp", "UDP"},
	}
	for _, tt := range tests {
		c := NetworkConfig{Protocol: tt.in, LocalPort: 1, RemotePort: 1}
		c.SetDefaults()
		if c.Protocol != tt.want {
			t.Errorf("SetDefaults() with Protocol=%q -> %q, want %q", tt.in, c.Protocol, tt.want)
		}
	}
}

func TestNetworkConfigValidateUDPRequiresLocalPort(t *testing.T) {
	c := NetworkConfig{Protocol: "UDP"}
	c.SetDefaults()
	errs := c.Validate()
	if len(errs) == 0 {
		t.Fatal("Validate() on UDP source with local_port=0 returned no errors")
	}
}

func TestNetworkConfigValidateTCPRequiresRemotePort(t *testing.T) {
	c := NetworkConfig{Protocol: "TCP", LocalPort: 1}
	c.SetDefaults()
	errs := c.Validate()
	if len(errs) == 0 {
		t.Fatal("Validate() on TCP source with remote_port=0 returned no errors")
	}
}

func TestNetworkConfigValidateMulticastGroupMustBeMulticast(t *testing.T) {
	c := NetworkConfig{Protocol: "UDP", LocalPort: 1, Multicast: Multicast{Enable: true, Group: "10.0.0.1"}}
	c.SetDefaults()
	errs := c.Validate()
	if len(errs) == 0 {
		t.Fatal("Validate() accepted a non-multicast group address")
	}
}

func TestNetworkConfigValidateMulticastGroupAccepted(t *testing.T) {
	c := NetworkConfig{Protocol: "UDP", LocalPort: 1, Multicast: Multicast{Enable: true, Group: "239.0.0.1"}}
	c.SetDefaults()
	if errs := c.Validate(); len(errs) != 0 {
		t.Errorf("Validate() rejected a valid multicast group: %v", errs)
	}
}

func TestNetworkConfigValidateBufferBounds(t *testing.T) {
	c := NetworkConfig{Protocol: "UDP", LocalPort: 1}
	c.SetDefaults()
	c.Performance.ReceiveBufferSize = 100 // below minReceiveBufferSize
	errs := c.Validate()
	if len(errs) == 0 {
		t.Fatal("Validate() accepted an out-of-bounds receive_buffer_size")
	}
}

func TestIsValid(t *testing.T) {
	c := NetworkConfig{Protocol: "UDP", LocalPort: 1}
	c.SetDefaults()
	if !IsValid(c) {
		t.Errorf("IsValid() = false on a defaulted, otherwise-valid config")
	}
}
