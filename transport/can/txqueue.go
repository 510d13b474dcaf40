package can

import (
	"container/heap"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/types"
)

// Frame is one outgoing CAN frame queued for transmission.
type Frame struct {
	CANID    uint32
	Data     []byte // payload plus tail byte
	Deadline executor.TimePoint
	Priority types.Priority
	seq      uint64
	index    int
}

// wouldFragment reports whether a payload of the given length needs more
// than one frame at mtu, using the same single-frame capacity rule as
// FragmentTransfer (mtu-1, since the tail byte always takes the last byte
// of the frame).
func wouldFragment(payloadLen, mtu int) bool {
	capacity := mtu - 1
	if capacity < 1 {
		capacity = 1
	}
	return payloadLen > capacity
}

// FragmentTransfer splits payload into the frame(s) needed to carry it at
// the given MTU, stamping tail bytes and, for multi-frame transfers, the
// trailing 16-bit CRC — spec.md sections 4.3 and 6.
func FragmentTransfer(payload []byte, mtu int, transferID uint8) [][]byte {
	capacity := mtu - 1
	if capacity < 1 {
		capacity = 1
	}

	if len(payload) <= capacity {
		frame := make([]byte, len(payload)+1)
		copy(frame, payload)
		frame[len(frame)-1] = TailByte(true, true, false, transferID)
		return [][]byte{frame}
	}

	withCRC := make([]byte, len(payload)+2)
	copy(withCRC, payload)
	crc := NewCRC().Add(payload)
	withCRC[len(payload)] = byte(crc >> 8)
	withCRC[len(payload)+1] = byte(crc & 0xff)

	var frames [][]byte
	toggle := false
	offset := 0
	for offset < len(withCRC) {
		end := offset + capacity
		if end > len(withCRC) {
			end = len(withCRC)
		}
		sof := offset == 0
		eof := end == len(withCRC)

		chunk := withCRC[offset:end]
		frame := make([]byte, len(chunk)+1)
		copy(frame, chunk)
		frame[len(frame)-1] = TailByte(sof, eof, toggle, transferID)
		frames = append(frames, frame)

		toggle = !toggle
		offset = end
	}
	return frames
}

// fragmentIntoPool computes the wire frames for payload via FragmentTransfer
// and copies each into a buffer checked out of p, so every Frame.Data the
// TxQueue ever holds is pool-owned rather than a bare heap allocation —
// spec.md section 3's memory pool as the root owner of every buffer.
// FragmentTransfer itself stays pure and heap-backed so its existing direct
// tests are untouched; this is the one bridge between its computed bytes
// and pool-owned storage. On a failed Acquire partway through, every buffer
// already checked out for this transfer is released before returning.
func fragmentIntoPool(p pool.Pool, payload []byte, mtu int, transferID uint8) ([][]byte, error) {
	raw := FragmentTransfer(payload, mtu, transferID)
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

// txHeap orders pending frames by (priority, deadline, insertion) per
// spec.md section 4.3, mirroring executor's scheduledHeap shape.
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

// TxQueue holds frames pending transmission on one media interface,
// bounded by capacity (spec.md section 6, tx_queue_capacity_per_media).
type TxQueue struct {
	capacity int
	pool     pool.Pool
	h        txHeap
	nextSeq  uint64
	dropped  uint64
}

// NewTxQueue creates a TxQueue bounded to capacity frames. Every frame's
// Data is released back to p exactly once, at the point the queue is done
// with it: eviction, a stale drop, or a successful send.
func NewTxQueue(capacity int, p pool.Pool) *TxQueue {
	q := &TxQueue{capacity: capacity, pool: p}
	heap.Init(&q.h)
	return q
}

// Push enqueues a frame. If the queue is at capacity, it returns
// types.ErrCapacity for the caller to retry, per spec.md section 7 — unless
// frame outranks the queue's current lowest-priority pending frame, in
// which case that frame is evicted to make room (an explicit resolution of
// an Open Question: see DESIGN.md "TX queue eviction order under capacity
// pressure").
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

// Peek returns the highest-priority pending frame without removing it.
func (q *TxQueue) Peek() *Frame {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the highest-priority pending frame.
func (q *TxQueue) Pop() *Frame {
	return heap.Pop(&q.h).(*Frame)
}

// Len returns the number of frames currently queued.
func (q *TxQueue) Len() int {
	return len(q.h)
}

// Dropped returns how many frames were evicted by a higher-priority push
// or discarded by Drain because their deadline had passed.
func (q *TxQueue) Dropped() uint64 {
	return q.dropped
}

// Drain pushes as many queued frames as push accepts, stopping at the
// first rejection (media busy). Frames whose deadline has passed are
// dropped and counted on the way, per spec.md section 4.3. push mirrors
// media.CAN.Push's (accepted, err) contract.
func (q *TxQueue) Drain(now executor.TimePoint, push func(deadline executor.TimePoint, canID uint32, payload []byte) (bool, error)) (sent, droppedStale int, err error) {
	for q.Len() > 0 {
		f := q.Peek()

		if f.Deadline.Before(now) {
			q.Pop()
			q.pool.Release(f.Data)
			droppedStale++
			q.dropped++
			continue
		}

		accepted, pushErr := push(f.Deadline, f.CANID, f.Data)
		if pushErr != nil {
			return sent, droppedStale, pushErr
		}
		if !accepted {
			return sent, droppedStale, nil
		}

		q.Pop()
		// push's contract requires the media to have consumed or copied
		// payload synchronously before returning accepted, so the buffer
		// can be released back to the pool immediately.
		q.pool.Release(f.Data)
		sent++
	}
	return sent, droppedStale, nil
}
