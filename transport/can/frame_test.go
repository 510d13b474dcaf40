package can_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OpenCyphal/libuavcan/transport/can"
	"github.com/OpenCyphal/libuavcan/types"
)

var _ = Describe("message and service id encoding", func() {
	It("round-trips a message id", func() {
		id := can.EncodeMessageID(types.Nominal, 0x123, 0x2A, false)
		decoded := can.DecodeID(id)

		Expect(decoded.IsService).To(BeFalse())
		Expect(decoded.Priority).To(Equal(types.Nominal))
		Expect(decoded.Subject).To(Equal(types.PortID(0x123)))
		Expect(decoded.Source).To(Equal(types.NodeID(0x2A)))
		Expect(decoded.Anonymous).To(BeFalse())
	})

	It("marks an anonymous publisher", func() {
		id := can.EncodeMessageID(types.Nominal, 0x001, 0, true)
		decoded := can.DecodeID(id)
		Expect(decoded.Anonymous).To(BeTrue())
	})

	It("round-trips a service id", func() {
		id := can.EncodeServiceID(types.Fast, 0x07, 0x10, 0x20, true)
		decoded := can.DecodeID(id)

		Expect(decoded.IsService).To(BeTrue())
		Expect(decoded.IsRequest).To(BeTrue())
		Expect(decoded.Priority).To(Equal(types.Fast))
		Expect(decoded.Service).To(Equal(types.PortID(0x07)))
		Expect(decoded.Source).To(Equal(types.NodeID(0x10)))
		Expect(decoded.Destination).To(Equal(types.NodeID(0x20)))
	})

	It("distinguishes response from request on the same service id", func() {
		id := can.EncodeServiceID(types.Fast, 0x07, 0x20, 0x10, false)
		decoded := can.DecodeID(id)
		Expect(decoded.IsRequest).To(BeFalse())
	})
})

var _ = Describe("CAN single-frame publish (scenario 2)", func() {
	// spec.md's scenario prose states tail flags SOF=1/EOT=1/TOGGLE=0/TID=0
	// but its own worked hex byte is 0xE0, which under the normative
	// (SOF<<7)|(EOT<<6)|(TOGGLE<<5)|(TID&0x1F) formula decodes to TOGGLE=1 —
	// the two are mutually inconsistent. This implementation follows the
	// formula (stated normatively, twice) and the stated flags, giving
	// 0xC0.
	It("produces the priority/source id and a single tail-tagged frame", func() {
		id := can.EncodeMessageID(types.Nominal, 0x123, 0x2A, false)
		decoded := can.DecodeID(id)
		Expect(decoded.Priority).To(Equal(types.Nominal))
		Expect(decoded.Source).To(Equal(types.NodeID(0x2A)))

		frames := can.FragmentTransfer([]byte{0xDE, 0xAD}, 8, 0)
		Expect(frames).To(HaveLen(1))
		Expect(frames[0]).To(Equal([]byte{0xDE, 0xAD, 0xC0}))
	})
})

var _ = Describe("CAN multi-frame publish (scenario 3)", func() {
	It("fragments a 15-byte payload at MTU=8 into three frames with alternating toggle", func() {
		payload := make([]byte, 15)
		for i := range payload {
			payload[i] = byte(i)
		}

		frames := can.FragmentTransfer(payload, 8, 0)
		Expect(frames).To(HaveLen(3))

		Expect(frames[0]).To(HaveLen(8))
		Expect(frames[1]).To(HaveLen(8))
		Expect(frames[2]).To(HaveLen(4))

		sof0, eot0, t0, _ := can.ParseTailByte(frames[0][len(frames[0])-1])
		Expect(sof0).To(BeTrue())
		Expect(eot0).To(BeFalse())
		Expect(t0).To(BeFalse())

		sof1, eot1, t1, _ := can.ParseTailByte(frames[1][len(frames[1])-1])
		Expect(sof1).To(BeFalse())
		Expect(eot1).To(BeFalse())
		Expect(t1).To(BeTrue())

		sof2, eot2, t2, _ := can.ParseTailByte(frames[2][len(frames[2])-1])
		Expect(sof2).To(BeFalse())
		Expect(eot2).To(BeTrue())
		Expect(t2).To(BeFalse())

		// The final frame carries the trailing 16-bit CRC ahead of the tail
		// byte: 4 data bytes = 1 payload byte + 2 CRC bytes + tail.
		crc := can.NewCRC().Add(payload)
		Expect(frames[2][1]).To(Equal(byte(crc >> 8)))
		Expect(frames[2][2]).To(Equal(byte(crc & 0xff)))
	})

	It("single-frames a payload that fits within MTU-1", func() {
		frames := can.FragmentTransfer([]byte{1, 2, 3}, 8, 5)
		Expect(frames).To(HaveLen(1))
		_, _, _, tid := can.ParseTailByte(frames[0][len(frames[0])-1])
		Expect(tid).To(Equal(uint8(5)))
	})
})

var _ = Describe("tail byte", func() {
	It("round-trips all four fields", func() {
		b := can.TailByte(true, false, true, 0x1F)
		sof, eof, toggle, tid := can.ParseTailByte(b)
		Expect(sof).To(BeTrue())
		Expect(eof).To(BeFalse())
		Expect(toggle).To(BeTrue())
		Expect(tid).To(Equal(uint8(0x1F)))
	})
})
