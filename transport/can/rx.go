package can

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/types"
)

// ReassemblyKey identifies one in-progress reassembly: spec.md section 4.3
// keys it by (port-id, source node, transfer-id).
type ReassemblyKey struct {
	Port       types.PortID
	Source     types.NodeID
	TransferID uint8 // mod 32, per the CAN tail byte width
}

// reassembly is the per-source/transfer state spec.md section 3 names:
// expected next toggle, CRC accumulator, payload buffer and start deadline.
// buf is checked out of the Reassembler's pool once, at SOF, and never
// grown — spec.md section 3 names the memory pool as the root owner of
// every buffer in the stack, and this one is no exception.
type reassembly struct {
	nextToggle bool
	crc        CRC
	buf        []byte
	filled     int
	totalSize  int // bytes fed so far, before extent truncation
	startedAt  executor.TimePoint
	extent     int
}

// Reassembler reconstructs transfers from a stream of CAN frames for one
// RX session (one subject or one service port; transfers from different
// source nodes are reassembled separately). It never surfaces
// errors to the caller — reassembly and CRC failures are silent per
// spec.md section 7, only incrementing counters.
type Reassembler struct {
	pool              pool.Pool
	transferIDTimeout executor.Duration
	extent            int

	inProgress map[ReassemblyKey]*reassembly

	DroppedOutOfOrder  uint64
	DroppedStale       uint64
	DroppedCRC         uint64
	DroppedTruncated   uint64
	DroppedOutOfMemory uint64
	Delivered          uint64
}

// NewReassembler creates a Reassembler bounding each buffer to extent bytes
// (the subscription's declared extent, spec.md GLOSSARY) and evicting
// partial transfers older than timeout. Every reassembly buffer is checked
// out of p, never the Go heap.
func NewReassembler(p pool.Pool, extent int, timeout executor.Duration) *Reassembler {
	return &Reassembler{
		pool:              p,
		transferIDTimeout: timeout,
		extent:            extent,
		inProgress:        make(map[ReassemblyKey]*reassembly),
	}
}

// Feed processes one received frame. It returns the completed payload and
// true if this frame finished a transfer, or (nil, false) otherwise.
func (r *Reassembler) Feed(now executor.TimePoint, port types.PortID, source types.NodeID, canID uint32, data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}

	payload := data[:len(data)-1]
	tail := data[len(data)-1]
	sof, eof, toggle, tid := ParseTailByte(tail)

	key := ReassemblyKey{Port: port, Source: source, TransferID: tid}

	if sof {
		if old, exists := r.inProgress[key]; exists {
			// A fresh SOF for a key already in progress (the far end
			// restarted a transfer without us ever seeing it finish):
			// release the abandoned buffer before replacing it.
			r.pool.Release(old.buf)
			delete(r.inProgress, key)
		}

		buf, err := r.pool.Acquire(r.extent)
		if err != nil {
			r.DroppedOutOfMemory++
			return nil, false
		}
		r.inProgress[key] = &reassembly{
			nextToggle: toggle,
			crc:        NewCRC(),
			buf:        buf,
			startedAt:  now,
			extent:     r.extent,
		}
	}

	state, ok := r.inProgress[key]
	if !ok {
		// A continuation frame with no matching SOF: not our concern, drop
		// silently (a stray frame, one for a transfer already evicted, or
		// one whose SOF lost the race for a pool buffer).
		r.DroppedOutOfOrder++
		return nil, false
	}

	if !sof {
		if now.Sub(state.startedAt) > r.transferIDTimeout {
			delete(r.inProgress, key)
			r.pool.Release(state.buf)
			r.DroppedStale++
			return nil, false
		}
		if toggle != state.nextToggle {
			delete(r.inProgress, key)
			r.pool.Release(state.buf)
			r.DroppedOutOfOrder++
			return nil, false
		}
	}

	state.nextToggle = !state.nextToggle
	state.totalSize += len(payload)

	if state.filled < len(state.buf) {
		room := len(state.buf) - state.filled
		if room > len(payload) {
			room = len(payload)
		}
		copy(state.buf[state.filled:state.filled+room], payload[:room])
		state.filled += room
	}
	state.crc = state.crc.Add(payload)

	if !eof {
		return nil, false
	}

	delete(r.inProgress, key)

	if sof {
		// Single-frame transfer: no CRC trailer, payload is exactly what
		// was carried (truncated to extent above). DeliverFunc has no
		// pool-lifecycle participation, so the delivered slice is copied
		// out of the pool buffer before it is released — the one
		// documented exception to "every buffer comes from the pool."
		out := make([]byte, state.filled)
		copy(out, state.buf[:state.filled])
		r.pool.Release(state.buf)
		r.Delivered++
		return out, true
	}

	// The CRC accumulator always sees every byte of every frame, regardless
	// of extent truncation, so the check below is unaffected by how much of
	// the trailer actually made it into state.buf.
	if state.crc != 0 {
		r.pool.Release(state.buf)
		r.DroppedCRC++
		return nil, false
	}

	// state.buf holds at most state.extent bytes of (payload || CRC);
	// truncatedAmount is how many trailing bytes of that stream extent cut
	// off before they could be stored. Only subtract the portion of the
	// CRC trailer that actually landed in the buffer — mirrors go-canard's
	// rxSessionAcceptFrame truncatedAmount/CRC_SIZE bookkeeping, which this
	// package previously skipped and always stripped a flat two bytes,
	// corrupting extent-truncated multi-frame payloads.
	const crcSize = 2
	truncatedAmount := state.totalSize - state.filled
	if truncatedAmount >= crcSize {
		out := make([]byte, state.filled)
		copy(out, state.buf[:state.filled])
		r.pool.Release(state.buf)
		r.Delivered++
		return out, true
	}

	strip := crcSize - truncatedAmount
	if state.filled < strip {
		r.pool.Release(state.buf)
		r.DroppedTruncated++
		return nil, false
	}

	delivered := make([]byte, state.filled-strip)
	copy(delivered, state.buf[:state.filled-strip])
	r.pool.Release(state.buf)
	r.Delivered++
	return delivered, true
}

// EvictStale drops any in-progress reassembly older than the configured
// timeout, independent of new frame arrivals (spec.md section 4.3).
func (r *Reassembler) EvictStale(now executor.TimePoint) {
	for key, state := range r.inProgress {
		if now.Sub(state.startedAt) > r.transferIDTimeout {
			delete(r.inProgress, key)
			r.pool.Release(state.buf)
			r.DroppedStale++
		}
	}
}
