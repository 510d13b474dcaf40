package presentation

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/types"
)

// Response is what a Client's continuation receives: either the server's
// payload, or a timeout Err (errors.Is(Err, types.ErrTimeoutSentinel)
// holds) if the deadline fired first (spec.md section 4.5 state machine).
type Response struct {
	Payload []byte
	Err     error
}

type inflightRequest struct {
	peer         types.NodeID
	timeout      executor.Handle
	continuation func(Response)
}

// clientImpl is the shared session behind every Client façade on the same
// service: one response-RX reassembler and one in-flight-request table
// keyed by transfer-id (spec.md section 4.5, "Service clients").
type clientImpl struct {
	port           types.PortID
	endpoint       *Endpoint
	refcount       int
	nextTransferID types.TransferID
	inflight       map[types.TransferID]*inflightRequest
}

func (c *clientImpl) resolve(xfer types.Transfer) {
	req, ok := c.inflight[xfer.TransferID]
	if !ok || req.peer != xfer.Source {
		// Unmatched or duplicate response: dropped and counted, not an error
		// (spec.md section 4.5).
		c.endpoint.counters.DroppedResponses++
		return
	}
	req.timeout.Release()
	delete(c.inflight, xfer.TransferID)
	req.continuation(Response{Payload: xfer.Payload})
}

func (c *clientImpl) expire(tid types.TransferID) {
	req, ok := c.inflight[tid]
	if !ok {
		return
	}
	delete(c.inflight, tid)
	req.continuation(Response{Err: types.NewError(types.ErrTimeout)})
}

// Client is a typed handle to issue requests on one service.
type Client struct {
	impl *clientImpl
}

// NewClient opens (or joins) the service's response session, bounding
// reassembly to extent bytes on first open.
func (e *Endpoint) NewClient(port types.PortID, extent int) *Client {
	node, created := e.clients.EnsureNew(port, func() *clientImpl {
		return &clientImpl{
			port:           port,
			endpoint:       e,
			nextTransferID: e.loadTransferID(port, types.KindRequest),
			inflight:       make(map[types.TransferID]*inflightRequest),
		}
	})
	if created {
		e.transport.OpenResponseSession(port, extent)
	}
	node.Value.refcount++
	return &Client{impl: node.Value}
}

// Request sends payload to peer at the given priority, arming a timeout
// callback for deadline. When a matching response (or the timeout) fires,
// continuation is invoked exactly once with the result — the state
// machine from spec.md section 4.5.
func (c *Client) Request(peer types.NodeID, priority types.Priority, payload []byte, deadline executor.TimePoint, continuation func(Response)) error {
	impl := c.impl
	tid := impl.nextTransferID
	impl.nextTransferID = impl.nextTransferID.Add(1, impl.endpoint.transport.TransferIDBits())

	xfer := types.Transfer{
		Kind:        types.KindRequest,
		Priority:    priority,
		TransferID:  tid,
		Source:      impl.endpoint.localNode,
		Destination: types.To(peer),
		Port:        impl.port,
		Payload:     payload,
	}
	if err := impl.endpoint.transport.Send(xfer, deadline); err != nil {
		return err
	}

	handle, err := impl.endpoint.ex.RegisterCallback(func(executor.TimePoint) {
		impl.expire(tid)
	}, true)
	if err != nil {
		return err
	}
	handle.ScheduleAt(deadline)

	impl.inflight[tid] = &inflightRequest{peer: peer, timeout: handle, continuation: continuation}
	return nil
}

// Close releases this façade's share of the response session. Requests
// still in flight stay registered: their timeout callbacks still fire and
// invoke the continuation with a timeout Err. When the last Client on the
// service closes, the next
// transfer-id is written back to the TransferIDMap and the session drops.
func (c *Client) Close() {
	impl := c.impl
	impl.refcount--
	if impl.refcount > 0 {
		return
	}
	impl.endpoint.storeTransferID(impl.port, types.KindRequest, impl.nextTransferID)
	impl.endpoint.transport.CloseResponseSession(impl.port)
	if node, ok := impl.endpoint.clients.Find(impl.port); ok {
		impl.endpoint.clients.Remove(node)
	}
}
