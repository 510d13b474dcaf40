// Package media defines the embedder-implemented interfaces the transport
// layer drives: CAN and UDP media. Spec.md section 1 places the actual
// media drivers (SocketCAN, Berkeley sockets) out of scope — only these
// interfaces matter here.
package media

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/types"
)

// Error carries a MediaFailure with the media's own numeric sub-code,
// per spec.md section 7.
type Error struct {
	SubCode int
	Cause   error
}

func (e *Error) Error() string {
	return types.Wrap(types.ErrMediaFailure, e.Cause).Error()
}

func (e *Error) Unwrap() error {
	return types.Wrap(types.ErrMediaFailure, e.Cause)
}

// AsTypesError converts a media Error into the shared taxonomy, carrying
// the sub-code through.
func (e *Error) AsTypesError() *types.Error {
	return &types.Error{Kind: types.ErrMediaFailure, Cause: e.Cause, SubCode: e.SubCode}
}

// Filter is a CAN acceptance filter: a frame is accepted if
// (canID & mask) == (id & mask).
type Filter struct {
	ID   uint32
	Mask uint32
}

// PushCallback is armed by a media when it has no room to accept more
// frames; it fires once room becomes available.
type PushCallback func()

// PopCallback is armed by a media to signal that at least one frame/datagram
// is available to Pop/Recv.
type PopCallback func()

// CANFrame is one 29-bit-identifier CAN frame as delivered by Pop.
type CANFrame struct {
	Timestamp executor.TimePoint
	ID        uint32
	Data      []byte
}

// CAN is the interface the embedder implements over a real CAN controller
// (classic or FD). The core never touches the wire directly.
type CAN interface {
	// MTU returns the current maximum data-field size; it may change at
	// any time (e.g. switching Classic CAN <-> CAN FD).
	MTU() int

	// SetFilters installs the given acceptance filters, coalescing if the
	// hardware supports fewer than len(filters). An empty set rejects all
	// traffic.
	SetFilters(filters []Filter) error

	// Push attempts to transmit one frame before deadline. If the media
	// has no room it returns (false, nil) and payload is left untouched;
	// the caller retries once the push callback fires. If deadline has
	// already passed the media may drop the frame and report accepted.
	Push(deadline executor.TimePoint, canID uint32, payload []byte) (accepted bool, err error)

	// Pop retrieves one received frame into buf, or (nil, nil) if none is
	// pending.
	Pop(buf []byte) (*CANFrame, error)

	RegisterPushCallback(fn PushCallback)
	RegisterPopCallback(fn PopCallback)

	// TxMemory returns the allocator the transport must check out pending
	// TX frame payloads from, rather than growing the Go heap on every
	// Send.
	TxMemory() pool.Pool
}

// UDPEndpoint is a destination for a transmitted datagram: a multicast
// group (subject messages) or a unicast address (service messages).
type UDPEndpoint struct {
	Addr string // host:port, IPv4 multicast or unicast
}

// UDPDatagram is one received datagram.
type UDPDatagram struct {
	Timestamp executor.TimePoint
	Data      []byte
}

// UDP is the interface the embedder implements over Berkeley-style
// sockets. TX pushes whole datagrams; RX joins multicast groups per open
// subject session and polls per-interface sockets.
type UDP interface {
	// MTU returns the current maximum datagram payload size.
	MTU() int

	// JoinGroup/LeaveGroup manage multicast membership for subject RX.
	JoinGroup(group UDPEndpoint) error
	LeaveGroup(group UDPEndpoint) error

	// Push transmits one whole datagram to dst before deadline, with the
	// same accepted/retry contract as CAN.Push.
	Push(deadline executor.TimePoint, dst UDPEndpoint, payload []byte) (accepted bool, err error)

	// Pop retrieves one received datagram into buf, or (nil, nil) if none
	// is pending.
	Pop(buf []byte) (*UDPDatagram, error)

	RegisterPushCallback(fn PushCallback)
	RegisterPopCallback(fn PopCallback)

	// TxMemory returns the allocator the transport must check out pending
	// TX datagram payloads from, rather than growing the Go heap on every
	// Send.
	TxMemory() pool.Pool
}
