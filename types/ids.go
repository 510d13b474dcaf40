// Package types defines the wire-level vocabulary shared by the transport
// and presentation layers: node/port/transfer identifiers, priority levels
// and the error taxonomy.
package types

import "fmt"

// NodeID identifies a node on the bus or network. The valid range depends on
// the media: CAN allows 0-127, UDP allows 0-65534. AnonymousNodeID marks a
// node that has not yet been allocated an identifier (CAN only).
type NodeID uint32

// AnonymousNodeID is used by a node that has not yet claimed a NodeID.
const AnonymousNodeID NodeID = 0xFFFFFFFF

// IsAnonymous reports whether the id denotes an anonymous node.
func (n NodeID) IsAnonymous() bool {
	return n == AnonymousNodeID
}

// Valid reports whether n is within the bound for the given media width.
func (n NodeID) Valid(maxNodeID NodeID) bool {
	return n.IsAnonymous() || n <= maxNodeID
}

const (
	// MaxNodeIDCAN is the highest node-id representable on Cyphal/CAN (7 bits).
	MaxNodeIDCAN NodeID = 127
	// MaxNodeIDUDP is the highest node-id representable on Cyphal/UDP (16 bits, minus broadcast).
	MaxNodeIDUDP NodeID = 65534
)

// PortID identifies a subject (message) or service (request/response) port.
// Subjects use a 13-bit space, services a 9-bit space.
type PortID uint32

const (
	// MaxSubjectPortID is the highest valid subject port-id (13 bits).
	MaxSubjectPortID PortID = 8191
	// MaxServicePortID is the highest valid service port-id (9 bits).
	MaxServicePortID PortID = 511
)

// TransferID is a per-session monotone counter used for duplicate
// suppression and request/response correlation. It is 64-bit on UDP and
// effectively 5-bit (mod 32) on CAN; callers mask as required by the media.
type TransferID uint64

// Add returns id+delta, wrapping modulo 2^bits.
func (id TransferID) Add(delta uint64, bits uint) TransferID {
	mask := TransferID(1)<<bits - 1
	return (id + TransferID(delta)) & mask
}

// Priority is a 3-bit ordering; lower numeric value means higher priority.
type Priority uint8

const (
	Exceptional Priority = iota
	Immediate
	Fast
	High
	Nominal
	Low
	Slow
	Optional
)

func (p Priority) String() string {
	switch p {
	case Exceptional:
		return "exceptional"
	case Immediate:
		return "immediate"
	case Fast:
		return "fast"
	case High:
		return "high"
	case Nominal:
		return "nominal"
	case Low:
		return "low"
	case Slow:
		return "slow"
	case Optional:
		return "optional"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the eight defined levels.
func (p Priority) Valid() bool {
	return p <= Optional
}

// Kind distinguishes the three transfer categories Cyphal defines.
type Kind uint8

const (
	KindMessage Kind = iota
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Destination identifies the recipient of a transfer. Messages broadcast
// (Broadcast() true); requests/responses target exactly one node.
type Destination struct {
	node      NodeID
	broadcast bool
}

// Broadcast returns a destination meaning "every node" (used for messages).
func Broadcast() Destination {
	return Destination{broadcast: true}
}

// To returns a destination addressed to a specific node (services only).
func To(node NodeID) Destination {
	return Destination{node: node}
}

// IsBroadcast reports whether this destination is the broadcast sentinel.
func (d Destination) IsBroadcast() bool {
	return d.broadcast
}

// Node returns the destination node-id; only meaningful if !IsBroadcast().
func (d Destination) Node() NodeID {
	return d.node
}
