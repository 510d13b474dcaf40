package executor

// CallbackID uniquely identifies a registered callback for the lifetime of
// the Executor that created it.
type CallbackID uint64

// CallbackFunc is the code a scheduled node runs. now is the time the
// Executor observed when it decided the callback was due.
type CallbackFunc func(now TimePoint)

// node is the executor's private bookkeeping for one registered callback.
// It is never exposed directly; callers only see a Handle.
type node struct {
	id         CallbackID
	fn         CallbackFunc
	execTime   TimePoint
	seq        uint64 // insertion sequence, breaks ties in the scheduled heap
	index      int    // heap.Interface bookkeeping
	scheduled  bool
	autoRemove bool
	periodic   bool
	period     Duration
}

// Handle is held by external code to (re)schedule or cancel a registered
// callback. Dropping the handle does not itself unregister the callback —
// Go has no destructors — call Release explicitly, the way every owning
// component in this module does in its own Close/Release method.
type Handle struct {
	id CallbackID
	ex *Executor
}

// ID returns the callback id this handle refers to, for logging/tracing.
func (h Handle) ID() CallbackID {
	return h.id
}

// ScheduleAt (re)schedules the callback to run at t. A second call
// supersedes the first scheduling.
func (h Handle) ScheduleAt(t TimePoint) {
	h.ex.scheduleAt(h.id, t)
}

// ScheduleAfter (re)schedules the callback to run after d has elapsed from
// the executor's current time.
func (h Handle) ScheduleAfter(d Duration) {
	h.ex.scheduleAt(h.id, h.ex.Now().Add(d))
}

// SchedulePeriodic arms the callback to run at `first` and then every
// `period` thereafter until Cancel or Release.
func (h Handle) SchedulePeriodic(period Duration, first TimePoint) {
	h.ex.schedulePeriodic(h.id, period, first)
}

// Cancel removes the callback from the scheduled set but keeps the
// registration — ScheduleAt/ScheduleAfter can arm it again later.
func (h Handle) Cancel() {
	h.ex.cancel(h.id)
}

// Release cancels and fully unregisters the callback. This is the
// executor-side half of "dropping a handle" from spec.md section 5.
func (h Handle) Release() {
	h.ex.release(h.id)
}
