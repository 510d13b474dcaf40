package can

import (
	"github.com/OpenCyphal/libuavcan/media"
	"github.com/OpenCyphal/libuavcan/types"
)

// DeriveFilters computes the minimal hardware acceptance filter set for the
// currently open RX sessions, per spec.md section 4.3. Kept as a pure
// function over the session set (rather than a method mutating transport
// state) so it is independently testable, the way akita keeps its
// arbitration/routing logic pure and separate from the stateful switch
// (noc/networking/routing in the example pack).
//
// One filter is emitted per open subject; service sessions for the same
// local node all share one filter matching any service frame addressed to
// that node, since they differ only in service-id and request/response bit
// which the service filter's mask below does not constrain.
func DeriveFilters(subjects []types.PortID, localNode types.NodeID, wantServices bool) []media.Filter {
	filters := make([]media.Filter, 0, len(subjects)+1)

	for _, subject := range subjects {
		id := EncodeMessageID(0, subject, 0, false)
		mask := uint32(1)<<bitServiceNotMessage | (maskSubjectID << offsetSubjectID)
		filters = append(filters, media.Filter{ID: id & mask, Mask: mask})
	}

	if wantServices {
		id := EncodeServiceID(0, 0, 0, localNode, false)
		mask := uint32(1)<<bitServiceNotMessage | (maskNode << offsetDestNode)
		filters = append(filters, media.Filter{ID: id & mask, Mask: mask})
	}

	return filters
}
