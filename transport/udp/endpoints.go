package udp

import (
	"fmt"

	"github.com/OpenCyphal/libuavcan/media"
	"github.com/OpenCyphal/libuavcan/types"
)

// DefaultPort is the UDP port Cyphal/UDP traffic uses, both for the
// multicast subject groups and the per-node unicast service endpoints.
const DefaultPort = 9382

// SubjectMulticastGroup derives the deterministic multicast group a subject
// publishes to: 239.0.s.s, where "ss" is the subject-id as a big-endian
// 16-bit pair occupying the group address's last two octets (spec.md
// section 6).
func SubjectMulticastGroup(subject types.PortID) media.UDPEndpoint {
	hi := byte(subject >> 8)
	lo := byte(subject)
	return media.UDPEndpoint{Addr: fmt.Sprintf("239.0.%d.%d:%d", hi, lo, DefaultPort)}
}

// ServiceUnicastEndpoint derives the endpoint a service request/response
// addressed to node is delivered to. Spec.md section 6 specifies only that
// it is "a per-destination-node unicast endpoint derived from destination
// node-id", leaving the concrete address family implementation-defined; this
// mirrors the subject group's byte-split convention within the loopback
// range so the two derivations read the same way (see DESIGN.md).
func ServiceUnicastEndpoint(node types.NodeID) media.UDPEndpoint {
	hi := byte(node >> 8)
	lo := byte(node)
	return media.UDPEndpoint{Addr: fmt.Sprintf("127.0.%d.%d:%d", hi, lo, DefaultPort)}
}
