package udp

import (
	"container/heap"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/media"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/types"
)

// Frame is one outgoing UDP datagram (header + payload chunk, plus the
// trailing CRC-32C on the final chunk) queued for transmission to dst.
type Frame struct {
	Dest     media.UDPEndpoint
	Data     []byte
	Deadline executor.TimePoint
	Priority types.Priority
	seq      uint64
	index    int
}

// FragmentTransfer splits payload into the datagram(s) needed to carry it
// at the given MTU, stamping the header (with frame-index/EOT) on each and
// the CRC-32C trailer over the whole payload once, before fragmentation —
// spec.md section 6: every Cyphal/UDP transfer carries the trailer on its
// final (possibly only) frame.
func FragmentTransfer(payload []byte, mtu int, h Header) [][]byte {
	capacity := mtu - HeaderSize
	if capacity < 1 {
		capacity = 1
	}

	withCRC := AppendPayloadCRC(payload)

	var frames [][]byte
	offset := 0
	index := uint32(0)
	for {
		end := offset + capacity
		if end > len(withCRC) {
			end = len(withCRC)
		}
		chunk := withCRC[offset:end]

		hdr := h
		hdr.FrameIndex = index
		hdr.EndOfTransfer = end == len(withCRC)

		header := EncodeHeader(hdr)
		frame := make([]byte, HeaderSize+len(chunk))
		copy(frame, header[:])
		copy(frame[HeaderSize:], chunk)
		frames = append(frames, frame)

		index++
		offset = end
		if offset >= len(withCRC) {
			break
		}
	}
	return frames
}

// fragmentIntoPool mirrors transport/can's helper of the same name: it
// computes the wire frames via FragmentTransfer, then copies each into a
// buffer checked out of p so Frame.Data is always pool-owned. On a failed
// Acquire partway through, every buffer already checked out for this
// transfer is released before returning.
func fragmentIntoPool(p pool.Pool, payload []byte, mtu int, h Header) ([][]byte, error) {
	raw := FragmentTransfer(payload, mtu, h)
	bufs := make([][]byte, 0, len(raw))
	for _, chunk := range raw {
		buf, err := p.Acquire(len(chunk))
		if err != nil {
			for _, b := range bufs {
				p.Release(b)
			}
			return nil, err
		}
		copy(buf, chunk)
		bufs = append(bufs, buf)
	}
	return bufs, nil
}

// txHeap orders pending datagrams by (priority, deadline, insertion),
// mirroring transport/can's txHeap.
type txHeap []*Frame

func (h txHeap) Len() int { return len(h) }
func (h txHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline.Before(h[j].Deadline)
	}
	return h[i].seq < h[j].seq
}
func (h txHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *txHeap) Push(x interface{}) {
	f := x.(*Frame)
	f.index = len(*h)
	*h = append(*h, f)
}
func (h *txHeap) Pop() interface{} {
	old := *h
	n := len(old) - 1
	f := old[n]
	old[n] = nil
	*h = old[:n]
	return f
}

// TxQueue holds datagrams pending transmission on one media interface,
// bounded by capacity, with the same priority-eviction-at-capacity
// behaviour as transport/can.TxQueue (see DESIGN.md).
type TxQueue struct {
	capacity int
	pool     pool.Pool
	h        txHeap
	nextSeq  uint64
	dropped  uint64
}

// NewTxQueue creates a TxQueue bounded to capacity datagrams. Every frame's
// Data is released back to p exactly once: eviction, a stale drop, or a
// successful send.
func NewTxQueue(capacity int, p pool.Pool) *TxQueue {
	q := &TxQueue{capacity: capacity, pool: p}
	heap.Init(&q.h)
	return q
}

// Push enqueues a datagram, evicting the current lowest-priority pending
// one if at capacity and frame outranks it, else returning
// types.ErrCapacity.
func (q *TxQueue) Push(frame *Frame) error {
	frame.seq = q.nextSeq
	q.nextSeq++

	if len(q.h) < q.capacity {
		heap.Push(&q.h, frame)
		return nil
	}

	worst := q.h[worstIndex(q.h)]
	if frame.Priority < worst.Priority {
		heap.Remove(&q.h, worst.index)
		q.pool.Release(worst.Data)
		q.dropped++
		heap.Push(&q.h, frame)
		return nil
	}

	return types.NewError(types.ErrCapacity)
}

func worstIndex(h txHeap) int {
	worst := 0
	for i := 1; i < len(h); i++ {
		if h[i].Priority > h[worst].Priority ||
			(h[i].Priority == h[worst].Priority && h[i].seq > h[worst].seq) {
			worst = i
		}
	}
	return worst
}

// Peek returns the highest-priority pending datagram without removing it.
func (q *TxQueue) Peek() *Frame {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the highest-priority pending datagram.
func (q *TxQueue) Pop() *Frame {
	return heap.Pop(&q.h).(*Frame)
}

// Len returns the number of datagrams currently queued.
func (q *TxQueue) Len() int {
	return len(q.h)
}

// Dropped returns how many datagrams were evicted by a higher-priority push
// or discarded by Drain because their deadline had passed.
func (q *TxQueue) Dropped() uint64 {
	return q.dropped
}

// Drain pushes as many queued datagrams as push accepts, stopping at the
// first rejection (media busy) or error; stale-deadline datagrams are
// dropped and counted rather than transmitted.
func (q *TxQueue) Drain(now executor.TimePoint, push func(deadline executor.TimePoint, dst media.UDPEndpoint, payload []byte) (bool, error)) (sent, droppedStale int, err error) {
	for q.Len() > 0 {
		f := q.Peek()

		if f.Deadline.Before(now) {
			q.Pop()
			q.pool.Release(f.Data)
			droppedStale++
			q.dropped++
			continue
		}

		accepted, pushErr := push(f.Deadline, f.Dest, f.Data)
		if pushErr != nil {
			return sent, droppedStale, pushErr
		}
		if !accepted {
			return sent, droppedStale, nil
		}

		q.Pop()
		q.pool.Release(f.Data)
		sent++
	}
	return sent, droppedStale, nil
}
