package executor_test

import (
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/OpenCyphal/libuavcan/executor"
)

// fakeClock lets tests pin "now" exactly, the way akita's tests drive the
// SerialEngine by hand rather than sleeping on a wall clock.
type fakeClock struct{ now executor.TimePoint }

func (c *fakeClock) read() executor.TimePoint { return c.now }

var _ = ginkgo.Describe("Executor", func() {
	var (
		clock *fakeClock
		ex    *executor.Executor
	)

	ginkgo.BeforeEach(func() {
		clock = &fakeClock{}
		ex = executor.New(clock.read, 0)
	})

	ginkgo.It("runs due callbacks in deadline order, FIFO among ties", func() {
		var order []string

		register := func(label string) executor.Handle {
			h, err := ex.RegisterCallback(func(executor.TimePoint) {
				order = append(order, label)
			}, false)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			return h
		}

		a := register("A")
		b := register("B")
		c := register("C")

		a.ScheduleAt(executor.TimePoint(5 * 1e6))
		b.ScheduleAt(executor.TimePoint(3 * 1e6))
		c.ScheduleAt(executor.TimePoint(5 * 1e6))

		clock.now = executor.TimePoint(10 * 1e6)
		result := ex.SpinOnce()

		gomega.Expect(order).To(gomega.Equal([]string{"B", "A", "C"}))
		gomega.Expect(result.NextDeadline).To(gomega.BeNil())
	})

	ginkgo.It("reports the next deadline without running future callbacks", func() {
		h, _ := ex.RegisterCallback(func(executor.TimePoint) {
			ginkgo.Fail("callback must not run before its deadline")
		}, false)
		h.ScheduleAt(executor.TimePoint(100))

		clock.now = executor.TimePoint(10)
		result := ex.SpinOnce()

		gomega.Expect(result.NextDeadline).NotTo(gomega.BeNil())
		gomega.Expect(*result.NextDeadline).To(gomega.Equal(executor.TimePoint(100)))
	})

	ginkgo.It("tracks worst lateness across spins", func() {
		h, _ := ex.RegisterCallback(func(executor.TimePoint) {}, false)
		h.ScheduleAt(executor.TimePoint(0))

		clock.now = executor.TimePoint(50)
		result := ex.SpinOnce()

		gomega.Expect(result.WorstLateness).To(gomega.Equal(executor.Duration(50)))
	})

	ginkgo.It("does not fire an auto-remove callback twice", func() {
		count := 0
		h, _ := ex.RegisterCallback(func(executor.TimePoint) { count++ }, true)
		h.ScheduleAt(executor.TimePoint(0))

		ex.SpinOnce()
		gomega.Expect(count).To(gomega.Equal(1))
		gomega.Expect(ex.NumRegistered()).To(gomega.Equal(0))

		// Scheduling an id that no longer exists is a silent no-op.
		h.ScheduleAt(executor.TimePoint(0))
		ex.SpinOnce()
		gomega.Expect(count).To(gomega.Equal(1))
	})

	ginkgo.It("re-arms a periodic callback for its next occurrence before invoking it", func() {
		var fired []executor.TimePoint
		h, _ := ex.RegisterCallback(func(now executor.TimePoint) {
			fired = append(fired, now)
		}, false)
		h.SchedulePeriodic(executor.Duration(10), executor.TimePoint(0))

		clock.now = executor.TimePoint(25)
		ex.SpinOnce()

		// Due at 0, 10 and 20 by t=25; not yet due at 30. Each run receives
		// the time the spin observed, 25, not its scheduled time.
		gomega.Expect(fired).To(gomega.Equal([]executor.TimePoint{25, 25, 25}))
		gomega.Expect(ex.NumRegistered()).To(gomega.Equal(1))
	})

	ginkgo.It("lets a callback reschedule itself without double-firing in the same spin", func() {
		calls := 0
		var h executor.Handle
		h, _ = ex.RegisterCallback(func(now executor.TimePoint) {
			calls++
			if calls == 1 {
				h.ScheduleAt(now.Add(5))
			}
		}, false)
		h.ScheduleAt(executor.TimePoint(0))

		clock.now = executor.TimePoint(3)
		ex.SpinOnce()
		gomega.Expect(calls).To(gomega.Equal(1))

		clock.now = executor.TimePoint(10)
		result := ex.SpinOnce()
		gomega.Expect(calls).To(gomega.Equal(2))
		gomega.Expect(result.NextDeadline).To(gomega.BeNil())
	})

	ginkgo.It("cancel removes a callback from the scheduled set but keeps it registered", func() {
		h, _ := ex.RegisterCallback(func(executor.TimePoint) {
			ginkgo.Fail("cancelled callback must not run")
		}, false)
		h.ScheduleAt(executor.TimePoint(0))
		h.Cancel()

		clock.now = executor.TimePoint(100)
		result := ex.SpinOnce()

		gomega.Expect(result.NextDeadline).To(gomega.BeNil())
		gomega.Expect(ex.NumRegistered()).To(gomega.Equal(1))
	})

	ginkgo.It("release unregisters the callback entirely", func() {
		h, _ := ex.RegisterCallback(func(executor.TimePoint) {}, false)
		h.ScheduleAt(executor.TimePoint(0))
		h.Release()

		gomega.Expect(ex.NumRegistered()).To(gomega.Equal(0))
	})

	ginkgo.It("returns OutOfMemory instead of panicking once the bound is reached", func() {
		bounded := executor.New(clock.read, 1)
		_, err := bounded.RegisterCallback(func(executor.TimePoint) {}, false)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = bounded.RegisterCallback(func(executor.TimePoint) {}, false)
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
