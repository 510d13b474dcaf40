package types

import "time"

// Transfer is one logical protocol message, possibly split across multiple
// media frames by the transport layer. The payload's semantic type is fixed
// by the (PortID, Kind) binding; serialisation is out of scope for this
// layer (spec.md section 1) — callers hand over already-serialised bytes.
type Transfer struct {
	Priority   Priority
	TransferID TransferID
	Source     NodeID // AnonymousNodeID for an anonymous publisher
	Destination
	Port      PortID
	Kind      Kind
	Timestamp time.Time
	Payload   []byte
}

// Key identifies the session a transfer belongs to on the RX side.
type Key struct {
	Kind Kind
	Port PortID
	Peer NodeID // meaningful for Request/Response; ignored for Message
}
