package packet

import (
	"fmt"

	"pktcore/internal/memory"
)

// Factory turns raw bytes received off the wire into a Packet. It is
// stateless from a source's perspective: a source calls CreateFromRaw once
// per framed datagram or stream frame and treats any error as a
// packet_errors increment, never a fatal condition.
type Factory interface {
	CreateFromRaw(raw []byte) (Packet, error)
}

// PoolFactory is the reference Factory: it decodes the header with
// DecodeHeader and, when a block pool is configured, copies the payload
// into a pool block so the source's receive buffer can be reused
// immediately. Pool exhaustion is not a factory error — it falls back to
// a plain heap copy, since ResourceExhaustion is reported via the pool's
// own AllocationFailed event, not by failing packet ingestion.
type PoolFactory struct {
	pool *memory.BlockPool // nil disables pool-backed payloads
}

// NewPoolFactory creates a Factory that backs payloads with blocks from
// pool. pool may be nil, in which case every payload is a plain copy.
func NewPoolFactory(pool *memory.BlockPool) *PoolFactory {
	return &PoolFactory{pool: pool}
}

func (f *PoolFactory) CreateFromRaw(raw []byte) (Packet, error) {
	if len(raw) < HeaderSize {
		return Packet{}, fmt.Errorf("packet: raw frame too short: %d < %d", len(raw), HeaderSize)
	}
	hdr, err := DecodeHeader(raw)
	if err != nil {
		return Packet{}, err
	}

	wirePayload := raw[HeaderSize:]
	if uint32(len(wirePayload)) < hdr.PayloadSize {
		return Packet{}, fmt.Errorf("packet: frame declares payload_size %d but only %d bytes present", hdr.PayloadSize, len(wirePayload))
	}
	wirePayload = wirePayload[:hdr.PayloadSize]

	if f.pool == nil {
		payload := make([]byte, len(wirePayload))
		copy(payload, wirePayload)
		return Packet{Header: hdr, Payload: payload}, nil
	}

	block, ok := f.pool.Acquire()
	if !ok {
		payload := make([]byte, len(wirePayload))
		copy(payload, wirePayload)
		return Packet{Header: hdr, Payload: payload}, nil
	}
	n := copy(block.Bytes(), wirePayload)
	return Packet{Header: hdr, Payload: block.Bytes()[:n], block: block}, nil
}
