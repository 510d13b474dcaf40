package udp

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/types"
)

// ReassemblyKey identifies one in-progress reassembly: spec.md section 4.4
// keys it by (source node, transfer-id), scoped to the reassembler's own
// port (one Reassembler per open session, as in transport/can).
type ReassemblyKey struct {
	Source     types.NodeID
	TransferID types.TransferID
}

// reassembly tracks, for one in-progress transfer, the extent-bounded
// delivery buffer plus a running CRC-32C over every payload byte seen so
// far *except* the last up to TrailerSize bytes, which are held in tail —
// since the trailer is appended after the payload, the reassembler cannot
// tell which bytes belong to it until no more data follows. Holding back a
// sliding TrailerSize-byte window lets it verify the trailer with O(1)
// extra memory instead of buffering the whole transfer unbounded.
// buf is checked out of the Reassembler's pool once, at frame index 0, and
// never grown. tail stays a small heap-backed slice: TrailerSize is a fixed
// handful of bytes, already bounded to O(1) by the sliding-window design, so
// pooling it would add bookkeeping without reducing worst-case memory use.
type reassembly struct {
	nextIndex uint32
	buf       []byte
	filled    int
	tail      []byte
	crc       uint32
	startedAt executor.TimePoint
	extent    int
}

// Reassembler reconstructs transfers from a stream of Cyphal/UDP datagrams
// for one RX session, mirroring transport/can.Reassembler's silent-failure
// contract (spec.md section 7): malformed or out-of-order input only
// increments counters, never surfaces an error.
type Reassembler struct {
	pool              pool.Pool
	transferIDTimeout executor.Duration
	extent            int

	inProgress map[ReassemblyKey]*reassembly

	DroppedOutOfOrder  uint64
	DroppedStale       uint64
	DroppedCRC         uint64
	DroppedMalformed   uint64
	DroppedOutOfMemory uint64
	Delivered          uint64
}

// NewReassembler creates a Reassembler bounding delivered payloads to
// extent bytes and evicting partial transfers older than timeout. Every
// reassembly buffer is checked out of p, never the Go heap.
func NewReassembler(p pool.Pool, extent int, timeout executor.Duration) *Reassembler {
	return &Reassembler{
		pool:              p,
		transferIDTimeout: timeout,
		extent:            extent,
		inProgress:        make(map[ReassemblyKey]*reassembly),
	}
}

// Feed processes one received datagram (header already parsed by the
// caller via DecodeHeader; data is the datagram's body following the
// header). It returns the completed payload and true if this datagram
// finished a transfer.
func (r *Reassembler) Feed(now executor.TimePoint, h Header, data []byte) ([]byte, bool) {
	key := ReassemblyKey{Source: h.Source, TransferID: h.TransferID}

	if h.FrameIndex == 0 {
		if old, exists := r.inProgress[key]; exists {
			r.pool.Release(old.buf)
			delete(r.inProgress, key)
		}
		buf, err := r.pool.Acquire(r.extent)
		if err != nil {
			r.DroppedOutOfMemory++
			return nil, false
		}
		r.inProgress[key] = &reassembly{startedAt: now, extent: r.extent, buf: buf}
	}

	state, ok := r.inProgress[key]
	if !ok {
		r.DroppedOutOfOrder++
		return nil, false
	}

	if now.Sub(state.startedAt) > r.transferIDTimeout {
		delete(r.inProgress, key)
		r.pool.Release(state.buf)
		r.DroppedStale++
		return nil, false
	}

	if h.FrameIndex != state.nextIndex {
		delete(r.inProgress, key)
		r.pool.Release(state.buf)
		r.DroppedOutOfOrder++
		return nil, false
	}
	state.nextIndex++

	combined := append(state.tail, data...)
	var toHash []byte
	if len(combined) > TrailerSize {
		toHash = combined[:len(combined)-TrailerSize]
		state.tail = append([]byte{}, combined[len(combined)-TrailerSize:]...)
	} else {
		state.tail = append([]byte{}, combined...)
	}
	state.crc = crc32.Update(state.crc, castagnoli, toHash)

	if state.filled < len(state.buf) {
		room := len(state.buf) - state.filled
		if room > len(toHash) {
			room = len(toHash)
		}
		copy(state.buf[state.filled:state.filled+room], toHash[:room])
		state.filled += room
	}

	if !h.EndOfTransfer {
		return nil, false
	}

	delete(r.inProgress, key)

	if len(state.tail) != TrailerSize {
		r.pool.Release(state.buf)
		r.DroppedMalformed++
		return nil, false
	}
	want := binary.LittleEndian.Uint32(state.tail)
	if state.crc != want {
		r.pool.Release(state.buf)
		r.DroppedCRC++
		return nil, false
	}

	// DeliverFunc has no pool-lifecycle participation, so the delivered
	// slice is copied out of the pool buffer before it is released.
	out := make([]byte, state.filled)
	copy(out, state.buf[:state.filled])
	r.pool.Release(state.buf)
	r.Delivered++
	return out, true
}

// EvictStale drops any in-progress reassembly older than the configured
// timeout, independent of new datagram arrivals.
func (r *Reassembler) EvictStale(now executor.TimePoint) {
	for key, state := range r.inProgress {
		if now.Sub(state.startedAt) > r.transferIDTimeout {
			delete(r.inProgress, key)
			r.pool.Release(state.buf)
			r.DroppedStale++
		}
	}
}
