// Package executor implements the single-threaded, monotonic-time driven
// callback scheduler described in spec.md section 4.1: the root of the
// Cyphal stack that owns all deferred work (timers, I/O readiness, service
// deadlines). Grounded throughout on sarchlab/akita's sim.SerialEngine /
// sim.EventQueueImpl, generalised from "run discrete-event-sim events to
// completion" to "drain callbacks due at or before now, then yield".
package executor

import (
	"container/heap"
	"sync"

	"github.com/OpenCyphal/libuavcan/types"
)

// Clock supplies the executor's notion of "now". Embedders wire in a real
// monotonic clock (e.g. time.Since(processStart)); tests wire in a fake one.
type Clock func() TimePoint

// SpinResult is returned by SpinOnce: the deadline the caller should next
// wake the executor for, and the worst lateness observed so far.
type SpinResult struct {
	NextDeadline  *TimePoint
	WorstLateness Duration
}

// Executor is the cooperative scheduler. It is not safe to call SpinOnce
// concurrently with itself, but RegisterCallback/Handle methods may be
// called from within a running callback (the common case: a callback
// re-arms itself or registers a follow-up timer).
type Executor struct {
	HookableBase

	clock Clock

	mu         sync.Mutex
	registered map[CallbackID]*node
	queue      scheduledHeap
	nextID     CallbackID
	nextSeq    uint64

	maxCallbacks int // 0 means unbounded

	worstLateness Duration
}

// New creates an Executor driven by clock. maxCallbacks bounds the number
// of simultaneously registered callbacks; 0 means unbounded (the embedder
// is expected to size this to its memory pool the way every other bounded
// resource in this module is sized).
func New(clock Clock, maxCallbacks int) *Executor {
	e := &Executor{
		clock:        clock,
		registered:   make(map[CallbackID]*node),
		maxCallbacks: maxCallbacks,
	}
	heap.Init(&e.queue)
	return e
}

// Now returns the executor's current time, as reported by its clock.
func (e *Executor) Now() TimePoint {
	return e.clock()
}

// RegisterCallback registers fn for later scheduling. The callback is not
// yet scheduled to run — call one of Handle's Schedule* methods. Returns
// types.ErrOutOfMemory (never panics) if maxCallbacks is exceeded.
func (e *Executor) RegisterCallback(fn CallbackFunc, autoRemove bool) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxCallbacks > 0 && len(e.registered) >= e.maxCallbacks {
		return Handle{}, types.NewError(types.ErrOutOfMemory)
	}

	e.nextID++
	id := e.nextID
	n := &node{id: id, fn: fn, autoRemove: autoRemove, index: -1}
	e.registered[id] = n

	return Handle{id: id, ex: e}, nil
}

func (e *Executor) scheduleAt(id CallbackID, t TimePoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.registered[id]
	if !ok {
		return // unknown id: silent no-op, per spec.md section 4.1
	}

	n.periodic = false
	e.armLocked(n, t)
}

func (e *Executor) schedulePeriodic(id CallbackID, period Duration, first TimePoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.registered[id]
	if !ok {
		return
	}

	n.periodic = true
	n.period = period
	e.armLocked(n, first)
}

// armLocked (re)arms n for execTime t; a second schedule supersedes the
// first, whether or not n was already sitting in the heap.
func (e *Executor) armLocked(n *node, t TimePoint) {
	if n.scheduled {
		heap.Remove(&e.queue, n.index)
	}
	n.execTime = t
	n.seq = e.nextSeq
	e.nextSeq++
	n.scheduled = true
	heap.Push(&e.queue, n)
}

func (e *Executor) cancel(id CallbackID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.registered[id]
	if !ok || !n.scheduled {
		return
	}

	heap.Remove(&e.queue, n.index)
	n.scheduled = false
}

func (e *Executor) release(id CallbackID) {
	e.mu.Lock()
	n, ok := e.registered[id]
	if ok && n.scheduled {
		heap.Remove(&e.queue, n.index)
		n.scheduled = false
	}
	delete(e.registered, id)
	e.mu.Unlock()
}

// SpinOnce pops every callback whose deadline has passed (in deadline
// order, FIFO among ties) and invokes it, then returns the next pending
// deadline (nil if the scheduled set is empty) and the worst lateness
// observed over the executor's lifetime.
//
// A callback may schedule itself again from within its own body. Because
// the node is removed from the heap before invocation, and periodic nodes
// are re-armed for their *next* occurrence before the body runs, a single
// self-reschedule never causes the same pending instance to run twice.
func (e *Executor) SpinOnce() SpinResult {
	now := e.clock()

	for {
		e.mu.Lock()
		if e.queue.Len() == 0 {
			e.mu.Unlock()
			return SpinResult{NextDeadline: nil, WorstLateness: e.worstLateness}
		}

		top := e.queue[0]
		if top.execTime.After(now) {
			deadline := top.execTime
			e.mu.Unlock()
			return SpinResult{NextDeadline: &deadline, WorstLateness: e.worstLateness}
		}

		n := heap.Pop(&e.queue).(*node)
		n.scheduled = false

		lateness := now.Sub(n.execTime)
		if lateness > e.worstLateness {
			e.worstLateness = lateness
		}

		if n.periodic {
			e.armLocked(n, n.execTime.Add(n.period))
		} else if n.autoRemove {
			delete(e.registered, n.id)
		}
		e.mu.Unlock()

		if e.NumHooks() > 0 {
			e.InvokeHook(HookCtx{Domain: e, Pos: HookPosBeforeCallback, Item: n.id})
		}
		n.fn(now)
		if e.NumHooks() > 0 {
			e.InvokeHook(HookCtx{Domain: e, Pos: HookPosAfterCallback, Item: n.id})
		}
	}
}

// WorstLateness returns the largest (now - deadline) ever observed across
// all SpinOnce calls.
func (e *Executor) WorstLateness() Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.worstLateness
}

// NumRegistered returns the number of live registrations, for tests and
// monitoring.
func (e *Executor) NumRegistered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registered)
}
