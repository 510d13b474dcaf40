// Package presentation implements the Publisher/Subscriber/Client/Server
// façades of spec.md section 4.5: thin typed handles over a shared,
// refcounted session impl, one impl per (port, kind) pair, with
// transfer-id assignment and optional persistence via a TransferIDMap.
package presentation

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/types"
)

// Transport is the subset of transport/can.Transport and transport/udp.Transport
// the presentation layer drives; Endpoint is generic over either.
type Transport interface {
	OpenMessageSession(port types.PortID, extent int) error
	CloseMessageSession(port types.PortID)
	OpenRequestSession(port types.PortID, extent int)
	CloseRequestSession(port types.PortID)
	OpenResponseSession(port types.PortID, extent int)
	CloseResponseSession(port types.PortID)
	Send(transfer types.Transfer, deadline executor.TimePoint) error

	// TransferIDBits reports the wire width of a transfer-id on this media
	// (5 on CAN, since the tail byte only carries TID mod 32; 64 on UDP).
	// The presentation layer's counters increment modulo this width so a
	// transfer-id it assigns always matches what comes back over the wire.
	TransferIDBits() uint
}
