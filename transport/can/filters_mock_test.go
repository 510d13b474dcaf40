package can_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/media"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/transport/can"
	"github.com/OpenCyphal/libuavcan/types"
)

func noopDeliver(types.Transfer) {}

// matchFilterCount checks only the length of the installed filter set: the
// exact ID/mask bit layout is already covered by filters_test.go's direct
// DeriveFilters assertions, so this mock only needs to prove Transport wires
// SetFilters to its session set at all, and in response to every open/close.
func matchFilterCount(n int) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		filters, ok := x.([]media.Filter)
		return ok && len(filters) == n
	})
}

var _ = Describe("Transport filter installation", func() {
	var (
		ex      *executor.Executor
		mockCAN *MockCAN
		ctrl    *gomock.Controller
		tr      *can.Transport
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		ex = executor.New(func() executor.TimePoint { return executor.Since(0) }, 16)
		mockCAN = NewMockCAN(ctrl)
		mockCAN.EXPECT().RegisterPushCallback(gomock.Any())
		mockCAN.EXPECT().RegisterPopCallback(gomock.Any())
		mockCAN.EXPECT().TxMemory().Return(pool.NewFixed(64, 32)).AnyTimes()
	})

	AfterEach(func() {
		tr.Close()
		ctrl.Finish()
	})

	It("installs no filter set when no session is open", func() {
		mockCAN.EXPECT().SetFilters(matchFilterCount(0)).Return(nil).Times(0)
		tr = can.New(ex, mockCAN, 0x2A, can.Config{
			TxQueueCapacity:   8,
			TransferIDTimeout: executor.Duration(time.Second),
			Extent:            64,
		}, noopDeliver)
	})

	It("installs one filter per open message session and refreshes on close", func() {
		gomock.InOrder(
			mockCAN.EXPECT().SetFilters(matchFilterCount(1)).Return(nil),
			mockCAN.EXPECT().SetFilters(matchFilterCount(2)).Return(nil),
			mockCAN.EXPECT().SetFilters(matchFilterCount(1)).Return(nil),
			mockCAN.EXPECT().SetFilters(matchFilterCount(0)).Return(nil),
		)

		tr = can.New(ex, mockCAN, 0x2A, can.Config{
			TxQueueCapacity:   8,
			TransferIDTimeout: executor.Duration(time.Second),
			Extent:            64,
		}, noopDeliver)

		Expect(tr.OpenMessageSession(0x100, 0)).To(Succeed())
		Expect(tr.OpenMessageSession(0x200, 0)).To(Succeed())
		tr.CloseMessageSession(0x100)
		tr.CloseMessageSession(0x200)
	})

	It("adds the shared service filter once a request or response session opens", func() {
		gomock.InOrder(
			mockCAN.EXPECT().SetFilters(matchFilterCount(1)).Return(nil), // request opens
			mockCAN.EXPECT().SetFilters(matchFilterCount(1)).Return(nil), // response also opens, still just the service filter
			mockCAN.EXPECT().SetFilters(matchFilterCount(1)).Return(nil), // request closes, response keeps the service filter alive
			mockCAN.EXPECT().SetFilters(matchFilterCount(0)).Return(nil), // response closes, no service filter left
		)

		tr = can.New(ex, mockCAN, 0x2A, can.Config{
			TxQueueCapacity:   8,
			TransferIDTimeout: executor.Duration(time.Second),
			Extent:            64,
		}, noopDeliver)

		tr.OpenRequestSession(0x10, 0)
		tr.OpenResponseSession(0x11, 0)
		tr.CloseRequestSession(0x10)
		tr.CloseResponseSession(0x11)
	})

	It("does not reinstall filters when closing an already-closed port", func() {
		mockCAN.EXPECT().SetFilters(matchFilterCount(1)).Return(nil).Times(1)

		tr = can.New(ex, mockCAN, 0x2A, can.Config{
			TxQueueCapacity:   8,
			TransferIDTimeout: executor.Duration(time.Second),
			Extent:            64,
		}, noopDeliver)

		Expect(tr.OpenMessageSession(0x100, 0)).To(Succeed())
		tr.CloseMessageSession(0x999) // never opened: no filter refresh expected
	})
})
