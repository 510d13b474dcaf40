package presentation

import "github.com/OpenCyphal/libuavcan/types"

// serverImpl is the shared session behind every Server façade on the same
// service: one request-RX reassembler, fanning inbound requests out to
// every registered handler.
type serverImpl struct {
	port     types.PortID
	endpoint *Endpoint
	refcount int
	nextID   int
	handlers map[int]func(request types.Transfer) []byte
}

func (s *serverImpl) handle(xfer types.Transfer) {
	for _, h := range s.handlers {
		response := h(xfer)
		respXfer := types.Transfer{
			Kind:        types.KindResponse,
			Priority:    xfer.Priority,
			TransferID:  xfer.TransferID,
			Source:      s.endpoint.localNode,
			Destination: types.To(xfer.Source),
			Port:        s.port,
			Payload:     response,
		}
		deadline := s.endpoint.ex.Now().Add(s.endpoint.defaultResponseTimeout)
		s.endpoint.transport.Send(respXfer, deadline)
	}
}

// Server is a typed handle to one request handler registration on a
// service.
type Server struct {
	impl *serverImpl
	id   int
}

// NewServer opens (or joins) the service's request session, bounding
// reassembly to extent bytes on first open, and registers handler. handler
// is invoked synchronously from the transport's PumpRX for each inbound
// request; its return value is sent back with the request's transfer-id,
// within the Endpoint's default response timeout.
func (e *Endpoint) NewServer(port types.PortID, extent int, handler func(request types.Transfer) []byte) (*Server, error) {
	node, created := e.servers.EnsureNew(port, func() *serverImpl {
		return &serverImpl{
			port:     port,
			endpoint: e,
			handlers: make(map[int]func(types.Transfer) []byte),
		}
	})
	impl := node.Value

	if created {
		e.transport.OpenRequestSession(port, extent)
	}

	impl.refcount++
	id := impl.nextID
	impl.nextID++
	impl.handlers[id] = handler

	return &Server{impl: impl, id: id}, nil
}

// Close removes this façade's handler. When the last Server on the
// service closes, the request session is closed.
func (s *Server) Close() {
	impl := s.impl
	delete(impl.handlers, s.id)
	impl.refcount--
	if impl.refcount > 0 {
		return
	}
	impl.endpoint.transport.CloseRequestSession(impl.port)
	if node, ok := impl.endpoint.servers.Find(impl.port); ok {
		impl.endpoint.servers.Remove(node)
	}
}
