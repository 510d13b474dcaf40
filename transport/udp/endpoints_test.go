package udp_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OpenCyphal/libuavcan/transport/udp"
	"github.com/OpenCyphal/libuavcan/types"
)

var _ = Describe("endpoint derivation", func() {
	It("derives the subject multicast group from the subject-id's big-endian bytes", func() {
		group := udp.SubjectMulticastGroup(0x1234)
		Expect(group.Addr).To(Equal("239.0.18.52:9382")) // 0x12=18, 0x34=52
	})

	It("derives distinct groups for distinct subjects", func() {
		a := udp.SubjectMulticastGroup(1)
		b := udp.SubjectMulticastGroup(2)
		Expect(a.Addr).NotTo(Equal(b.Addr))
	})

	It("derives distinct unicast endpoints for distinct destination nodes", func() {
		a := udp.ServiceUnicastEndpoint(types.NodeID(0x10))
		b := udp.ServiceUnicastEndpoint(types.NodeID(0x20))
		Expect(a.Addr).NotTo(Equal(b.Addr))
		Expect(a.Addr).To(Equal("127.0.0.16:9382"))
	})
})
