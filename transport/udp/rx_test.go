package udp_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/transport/udp"
)

var _ = Describe("Reassembler", func() {
	var r *udp.Reassembler

	BeforeEach(func() {
		r = udp.NewReassembler(pool.NewFixed(64, 8), 64, executor.Duration(1000))
	})

	feed := func(now executor.TimePoint, frame []byte) ([]byte, bool) {
		h, ok := udp.DecodeHeader(frame)
		Expect(ok).To(BeTrue())
		return r.Feed(now, h, frame[udp.HeaderSize:])
	}

	It("delivers a single-datagram transfer", func() {
		h := udp.Header{Port: 0x123, TransferID: 5}
		frames := udp.FragmentTransfer([]byte{0xDE, 0xAD}, 1200, h)
		Expect(frames).To(HaveLen(1))

		payload, done := feed(executor.Since(0), frames[0])
		Expect(done).To(BeTrue())
		Expect(payload).To(Equal([]byte{0xDE, 0xAD}))
		Expect(r.Delivered).To(Equal(uint64(1)))
	})

	It("reassembles a multi-datagram transfer across its frame-index sequence", func() {
		payload := make([]byte, 300)
		for i := range payload {
			payload[i] = byte(i)
		}
		h := udp.Header{Port: 0x123, TransferID: 9}
		frames := udp.FragmentTransfer(payload, 80, h)
		Expect(len(frames)).To(BeNumerically(">", 1))

		var out []byte
		var done bool
		for _, f := range frames {
			out, done = feed(executor.Since(0), f)
		}
		Expect(done).To(BeTrue())
		// r's extent is 64, so only the first 64 payload bytes are kept; the
		// CRC still covers the whole transfer.
		Expect(out).To(Equal(payload[:64]))
		Expect(r.DroppedCRC).To(Equal(uint64(0)))
	})

	It("drops a transfer with a corrupted payload byte", func() {
		payload := make([]byte, 300)
		h := udp.Header{Port: 0x123, TransferID: 3}
		frames := udp.FragmentTransfer(payload, 80, h)
		frames[len(frames)-1][udp.HeaderSize] ^= 0xFF

		var done bool
		for _, f := range frames {
			_, done = feed(executor.Since(0), f)
		}
		Expect(done).To(BeFalse())
		Expect(r.DroppedCRC).To(Equal(uint64(1)))
	})

	It("drops a continuation datagram with no matching frame-index-0 start", func() {
		h := udp.Header{Port: 0x123, TransferID: 11, FrameIndex: 1}
		buf := udp.EncodeHeader(h)
		frame := append(buf[:], []byte{1, 2, 3}...)

		_, done := feed(executor.Since(0), frame)
		Expect(done).To(BeFalse())
		Expect(r.DroppedOutOfOrder).To(Equal(uint64(1)))
	})

	It("truncates delivered payload to the configured extent", func() {
		small := udp.NewReassembler(pool.NewFixed(64, 4), 1, executor.Duration(1000))
		h := udp.Header{Port: 0x123, TransferID: 1}
		frames := udp.FragmentTransfer([]byte{0xDE, 0xAD}, 1200, h)

		hdr, ok := udp.DecodeHeader(frames[0])
		Expect(ok).To(BeTrue())
		payload, done := small.Feed(executor.Since(0), hdr, frames[0][udp.HeaderSize:])
		Expect(done).To(BeTrue())
		Expect(payload).To(Equal([]byte{0xDE}))
	})

	It("evicts a stale in-progress reassembly after the timeout", func() {
		short := udp.NewReassembler(pool.NewFixed(64, 4), 64, executor.Duration(50))
		payload := make([]byte, 300)
		h := udp.Header{Port: 0x123, TransferID: 21}
		frames := udp.FragmentTransfer(payload, 80, h)

		hdr0, _ := udp.DecodeHeader(frames[0])
		_, done := short.Feed(executor.Since(0), hdr0, frames[0][udp.HeaderSize:])
		Expect(done).To(BeFalse())

		short.EvictStale(executor.Since(1000))
		Expect(short.DroppedStale).To(Equal(uint64(1)))
	})
})
