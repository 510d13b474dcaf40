package presentation

import "github.com/OpenCyphal/libuavcan/types"

// subscriberImpl is the shared RX session behind every Subscriber façade
// on the same subject (spec.md's open question on section 9, resolved in
// favour of "single presentation session, fanning out by refcount": one
// reassembler per subject, delivery fanned out to every registered
// callback).
type subscriberImpl struct {
	port      types.PortID
	extent    int
	endpoint  *Endpoint
	refcount  int
	nextID    int
	callbacks map[int]func(types.Transfer)
}

func (s *subscriberImpl) deliver(xfer types.Transfer) {
	for _, cb := range s.callbacks {
		cb(xfer)
	}
}

// Subscriber is a typed handle to one callback registration on a subject.
type Subscriber struct {
	impl *subscriberImpl
	id   int
}

// NewSubscriber opens (or joins) the subscribe session for port, bounding
// reassembly to extent bytes on first open, and registers callback. A
// second subscriber on an already-open subject reuses the transport
// session untouched — extent only takes effect for whichever call opens
// it first.
func (e *Endpoint) NewSubscriber(port types.PortID, extent int, callback func(types.Transfer)) (*Subscriber, error) {
	node, created := e.subscribers.EnsureNew(port, func() *subscriberImpl {
		return &subscriberImpl{
			port:      port,
			extent:    extent,
			endpoint:  e,
			callbacks: make(map[int]func(types.Transfer)),
		}
	})
	impl := node.Value

	if created {
		if err := e.transport.OpenMessageSession(port, extent); err != nil {
			e.subscribers.Remove(node)
			return nil, err
		}
	}

	impl.refcount++
	id := impl.nextID
	impl.nextID++
	impl.callbacks[id] = callback

	return &Subscriber{impl: impl, id: id}, nil
}

// Close removes this façade's callback. When the last Subscriber on the
// subject closes, the transport session is closed.
func (s *Subscriber) Close() {
	impl := s.impl
	delete(impl.callbacks, s.id)
	impl.refcount--
	if impl.refcount > 0 {
		return
	}
	impl.endpoint.transport.CloseMessageSession(impl.port)
	if node, ok := impl.endpoint.subscribers.Find(impl.port); ok {
		impl.endpoint.subscribers.Remove(node)
	}
}
