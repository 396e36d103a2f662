package packet

import "pktcore/internal/memory"

// Packet is a decoded header plus its payload. The payload slice may
// alias pool-owned storage; callers must not retain it past Release.
type Packet struct {
	Header  Header
	Payload []byte

	block *memory.Block // non-nil when Payload aliases pool storage
}

// Release returns the packet's backing block to its pool, if it has one.
// Safe to call on a packet whose payload was not pool-backed.
func (p *Packet) Release() {
	if p.block == nil {
		return
	}
	p.block.Pool().Release(p.block)
	p.block = nil
}

// Encode writes the packet's wire form (header then payload) into dst,
// which must be at least HeaderSize+len(p.Payload) bytes.
func (p Packet) Encode(dst []byte) (int, error) {
	if err := p.Header.Encode(dst); err != nil {
		return 0, err
	}
	n := copy(dst[HeaderSize:], p.Payload)
	return HeaderSize + n, nil
}

// WireSize returns this packet's total on-wire length.
func (p Packet) WireSize() int { return HeaderSize + len(p.Payload) }
