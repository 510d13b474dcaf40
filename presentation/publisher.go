package presentation

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/types"
)

// publisherImpl is the shared TX session behind every Publisher façade on
// the same subject: spec.md section 4.5, "two publishers on the same
// subject share a single TX session".
type publisherImpl struct {
	port           types.PortID
	endpoint       *Endpoint
	refcount       int
	nextTransferID types.TransferID
}

// Publisher is a typed handle to publish on one subject.
type Publisher struct {
	impl *publisherImpl
}

// NewPublisher opens (or joins) the publish session for port, seeding the
// transfer-id counter from the Endpoint's TransferIDMap if one is set.
func (e *Endpoint) NewPublisher(port types.PortID) *Publisher {
	node, _ := e.publishers.EnsureNew(port, func() *publisherImpl {
		return &publisherImpl{
			port:           port,
			endpoint:       e,
			nextTransferID: e.loadTransferID(port, types.KindMessage),
		}
	})
	node.Value.refcount++
	return &Publisher{impl: node.Value}
}

// Send publishes payload at the given priority, assigning and
// incrementing this session's transfer-id (invariant 2, spec.md section
// 8). deadline bounds how long the transport may hold queued frames
// before they become droppable.
func (p *Publisher) Send(priority types.Priority, payload []byte, deadline executor.TimePoint) error {
	impl := p.impl
	tid := impl.nextTransferID
	impl.nextTransferID = impl.nextTransferID.Add(1, impl.endpoint.transport.TransferIDBits())

	xfer := types.Transfer{
		Kind:        types.KindMessage,
		Priority:    priority,
		TransferID:  tid,
		Source:      impl.endpoint.localNode,
		Destination: types.Broadcast(),
		Port:        impl.port,
		Payload:     payload,
	}
	return impl.endpoint.transport.Send(xfer, deadline)
}

// Close releases this façade's share of the publish session. When the
// last Publisher on the subject closes, the next transfer-id is written
// back to the TransferIDMap (spec.md: "publisher destructor writes the
// next transfer-id to the map") and the session is dropped.
func (p *Publisher) Close() {
	impl := p.impl
	impl.refcount--
	if impl.refcount > 0 {
		return
	}
	impl.endpoint.storeTransferID(impl.port, types.KindMessage, impl.nextTransferID)
	if node, ok := impl.endpoint.publishers.Find(impl.port); ok {
		impl.endpoint.publishers.Remove(node)
	}
}
