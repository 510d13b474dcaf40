package can_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/media"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/transport/can"
	"github.com/OpenCyphal/libuavcan/types"
)

// loopbackCAN is a minimal media.CAN fake that loops pushed frames straight
// into its own RX queue, the way akita's mockconnection wires a component's
// output back to a peer's input without a real wire in between.
type loopbackCAN struct {
	mtu     int
	pending []*media.CANFrame
	filters []media.Filter
	txMem   pool.Pool
}

func newLoopbackCAN(mtu int) *loopbackCAN {
	// The pool backs both TX frame buffers (sized to mtu) and RX reassembly
	// buffers (sized to the session's extent, which in these tests exceeds
	// mtu), so its block size must cover whichever is larger.
	return &loopbackCAN{mtu: mtu, txMem: pool.NewFixed(256, 64)}
}

func (m *loopbackCAN) MTU() int { return m.mtu }

func (m *loopbackCAN) TxMemory() pool.Pool { return m.txMem }

func (m *loopbackCAN) SetFilters(filters []media.Filter) error {
	m.filters = filters
	return nil
}

func (m *loopbackCAN) Push(deadline executor.TimePoint, canID uint32, payload []byte) (bool, error) {
	data := make([]byte, len(payload))
	copy(data, payload)
	m.pending = append(m.pending, &media.CANFrame{Timestamp: deadline, ID: canID, Data: data})
	return true, nil
}

func (m *loopbackCAN) Pop(buf []byte) (*media.CANFrame, error) {
	if len(m.pending) == 0 {
		return nil, nil
	}
	f := m.pending[0]
	m.pending = m.pending[1:]
	return f, nil
}

func (m *loopbackCAN) RegisterPushCallback(fn media.PushCallback) {}
func (m *loopbackCAN) RegisterPopCallback(fn media.PopCallback)   {}

var _ = Describe("Transport", func() {
	var (
		ex  *executor.Executor
		med *loopbackCAN
		tr  *can.Transport
		got []types.Transfer
	)

	BeforeEach(func() {
		ex = executor.New(func() executor.TimePoint { return executor.Since(0) }, 16)
		med = newLoopbackCAN(8)
		got = nil
		tr = can.New(ex, med, 0x2A, can.Config{
			TxQueueCapacity:   8,
			TransferIDTimeout: executor.Duration(time.Second),
			Extent:            64,
		}, func(t types.Transfer) { got = append(got, t) })
	})

	AfterEach(func() {
		tr.Close()
	})

	It("delivers a single-frame message sent to itself over the loopback media", func() {
		tr.OpenMessageSession(0x123, 0)

		xfer := types.Transfer{
			Kind:       types.KindMessage,
			Priority:   types.Nominal,
			Port:       0x123,
			Source:     0x2A,
			Destination: types.Broadcast(),
			TransferID: 0,
			Payload:    []byte{0xDE, 0xAD},
		}
		Expect(tr.Send(xfer, executor.Since(1000))).To(Succeed())

		tr.PumpRX()

		Expect(got).To(HaveLen(1))
		Expect(got[0].Kind).To(Equal(types.KindMessage))
		Expect(got[0].Port).To(Equal(types.PortID(0x123)))
		Expect(got[0].Source).To(Equal(types.NodeID(0x2A)))
		Expect(got[0].Payload).To(Equal([]byte{0xDE, 0xAD}))
	})

	It("ignores frames on ports with no open session", func() {
		xfer := types.Transfer{
			Kind:        types.KindMessage,
			Priority:    types.Nominal,
			Port:        0x456,
			Source:      0x2A,
			Destination: types.Broadcast(),
			Payload:     []byte{1},
		}
		Expect(tr.Send(xfer, executor.Since(1000))).To(Succeed())
		tr.PumpRX()
		Expect(got).To(BeEmpty())
	})

	It("reassembles a multi-frame message end to end", func() {
		tr.OpenMessageSession(0x200, 0)
		payload := make([]byte, 20)
		for i := range payload {
			payload[i] = byte(i + 1)
		}
		xfer := types.Transfer{
			Kind:        types.KindMessage,
			Priority:    types.Fast,
			Port:        0x200,
			Source:      0x10,
			Destination: types.Broadcast(),
			TransferID:  3,
			Payload:     payload,
		}
		Expect(tr.Send(xfer, executor.Since(1000))).To(Succeed())
		tr.PumpRX()

		Expect(got).To(HaveLen(1))
		Expect(got[0].Payload).To(Equal(payload))
	})

	It("rejects a multi-frame transfer from an anonymous node before fragmenting it", func() {
		xfer := types.Transfer{
			Kind:        types.KindMessage,
			Priority:    types.Nominal,
			Port:        0x123,
			Source:      types.AnonymousNodeID,
			Destination: types.Broadcast(),
			Payload:     make([]byte, 20),
		}
		err := tr.Send(xfer, executor.Since(1000))
		Expect(err).To(HaveOccurred())
		Expect(tr.TxQueueLen()).To(Equal(0))
	})

	It("allows a single-frame transfer from an anonymous node", func() {
		xfer := types.Transfer{
			Kind:        types.KindMessage,
			Priority:    types.Nominal,
			Port:        0x123,
			Source:      types.AnonymousNodeID,
			Destination: types.Broadcast(),
			Payload:     []byte{0x01},
		}
		Expect(tr.Send(xfer, executor.Since(1000))).To(Succeed())
	})

	It("routes a request to the server's request session and a response to the client's response session", func() {
		tr.OpenRequestSession(0x07, 0)
		tr.OpenResponseSession(0x07, 0)

		request := types.Transfer{
			Kind:        types.KindRequest,
			Priority:    types.Fast,
			Port:        0x07,
			Source:      0x10,
			Destination: types.To(0x2A),
			TransferID:  42,
			Payload:     []byte{1, 2, 3},
		}
		Expect(tr.Send(request, executor.Since(1000))).To(Succeed())
		tr.PumpRX()

		Expect(got).To(HaveLen(1))
		Expect(got[0].Kind).To(Equal(types.KindRequest))
		// 42 mod 32: the CAN tail byte carries only 5 transfer-id bits.
		Expect(got[0].TransferID).To(Equal(types.TransferID(10)))

		response := types.Transfer{
			Kind:        types.KindResponse,
			Priority:    types.Fast,
			Port:        0x07,
			Source:      0x2A,
			Destination: types.To(0x10),
			TransferID:  42,
			Payload:     got[0].Payload,
		}
		Expect(tr.Send(response, executor.Since(1000))).To(Succeed())
		tr.PumpRX()

		Expect(got).To(HaveLen(2))
		Expect(got[1].Kind).To(Equal(types.KindResponse))
		Expect(got[1].TransferID).To(Equal(types.TransferID(10)))
	})
})
