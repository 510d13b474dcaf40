package can_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OpenCyphal/libuavcan/transport/can"
)

var _ = Describe("CRC-16/CCITT-FALSE", func() {
	It("starts from the 0xFFFF seed", func() {
		Expect(can.NewCRC()).To(Equal(can.CRC(0xFFFF)))
	})

	It("matches the known test vector for the ASCII string 123456789", func() {
		crc := can.NewCRC().Add([]byte("123456789"))
		Expect(crc).To(Equal(can.CRC(0x29B1)))
	})

	It("has the residue property: appending a correct CRC to the message zeroes the accumulator", func() {
		msg := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}
		crc := can.NewCRC().Add(msg)

		withCRC := append(append([]byte{}, msg...), byte(crc>>8), byte(crc&0xff))
		residue := can.NewCRC().Add(withCRC)
		Expect(residue).To(Equal(can.CRC(0)))
	})

	It("folds byte by byte identically to folding the whole slice", func() {
		msg := []byte{1, 2, 3, 4, 5}
		whole := can.NewCRC().Add(msg)

		byByte := can.NewCRC()
		for _, b := range msg {
			byByte = byByte.AddByte(b)
		}
		Expect(byByte).To(Equal(whole))
	})
})
