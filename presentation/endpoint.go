package presentation

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/session"
	"github.com/OpenCyphal/libuavcan/types"
)

// Endpoint is the presentation layer's root: it owns the four session
// trees (one per façade kind, spec.md section 4.6) keyed by port-id, and
// routes transfers delivered by the transport below to the matching
// session. One Endpoint wraps one Transport (one media interface).
type Endpoint struct {
	ex                     *executor.Executor
	transport              Transport
	localNode              types.NodeID
	idMap                  TransferIDMap
	defaultResponseTimeout executor.Duration

	publishers  session.Tree[*publisherImpl]
	subscribers session.Tree[*subscriberImpl]
	clients     session.Tree[*clientImpl]
	servers     session.Tree[*serverImpl]

	counters Counters
}

// Counters tallies presentation-layer events that are silently dropped
// rather than surfaced as an error, exposed read-only for monitoring.Server
// alongside each transport's own frame/CRC/capacity counters.
type Counters struct {
	// DroppedResponses counts responses a Client.resolve could not match to
	// an in-flight request: either the transfer-id has no pending request,
	// or it does but the response's source doesn't match who the request
	// was sent to (spec.md section 4.5).
	DroppedResponses uint64
}

// NewEndpoint builds an Endpoint for localNode. idMap may be nil (no
// persistence). The Transport is supplied separately via Bind, since the
// low-level transport's constructor itself needs this Endpoint's Deliver
// method as its delivery callback — see Bind's doc comment.
func NewEndpoint(ex *executor.Executor, localNode types.NodeID, idMap TransferIDMap, defaultResponseTimeout executor.Duration) *Endpoint {
	return &Endpoint{
		ex:                     ex,
		localNode:              localNode,
		idMap:                  idMap,
		defaultResponseTimeout: defaultResponseTimeout,
	}
}

// Bind attaches the Transport this Endpoint routes deliveries through.
// Construct the transport first, passing this Endpoint's Deliver method
// as its DeliverFunc, then call Bind — Deliver only runs once the
// transport pumps its RX queue, which always happens after Bind returns:
//
//	ep := presentation.NewEndpoint(ex, node, idMap, time)
//	tr := can.New(ex, media, node, cfg, ep.Deliver)
//	ep.Bind(tr)
func (e *Endpoint) Bind(t Transport) {
	e.transport = t
}

// Deliver routes one transfer reassembled by the transport to the
// matching presentation session, per spec.md section 4.5.
func (e *Endpoint) Deliver(xfer types.Transfer) {
	switch xfer.Kind {
	case types.KindMessage:
		e.deliverMessage(xfer)
	case types.KindRequest:
		e.deliverRequest(xfer)
	case types.KindResponse:
		e.deliverResponse(xfer)
	}
}

func (e *Endpoint) deliverMessage(xfer types.Transfer) {
	node, ok := e.subscribers.Find(xfer.Port)
	if !ok {
		return
	}
	node.Value.deliver(xfer)
}

func (e *Endpoint) deliverRequest(xfer types.Transfer) {
	node, ok := e.servers.Find(xfer.Port)
	if !ok {
		return
	}
	node.Value.handle(xfer)
}

func (e *Endpoint) deliverResponse(xfer types.Transfer) {
	node, ok := e.clients.Find(xfer.Port)
	if !ok {
		return
	}
	node.Value.resolve(xfer)
}

// loadTransferID consults idMap for the initial counter value of
// (port, localNode, kind); per spec.md section 4.5, an anonymous local
// node or an absent map always starts at zero and is never persisted.
func (e *Endpoint) loadTransferID(port types.PortID, kind types.Kind) types.TransferID {
	if e.idMap == nil || e.localNode.IsAnonymous() {
		return 0
	}
	v, ok := e.idMap.Load(TransferIDKey{Port: port, Node: e.localNode, Kind: kind})
	if !ok {
		return 0
	}
	return v
}

// storeTransferID writes next back to idMap, if persistence is active for
// this node.
func (e *Endpoint) storeTransferID(port types.PortID, kind types.Kind, next types.TransferID) {
	if e.idMap == nil || e.localNode.IsAnonymous() {
		return
	}
	e.idMap.Store(TransferIDKey{Port: port, Node: e.localNode, Kind: kind}, next)
}

// SessionCounts reports how many distinct ports currently have an open
// publisher, subscriber, client or server session, for monitoring.Server.
func (e *Endpoint) SessionCounts() (publishers, subscribers, clients, servers int) {
	return e.publishers.Len(), e.subscribers.Len(), e.clients.Len(), e.servers.Len()
}

// LocalNode returns the node-id this Endpoint was constructed with.
func (e *Endpoint) LocalNode() types.NodeID { return e.localNode }

// Counters returns a snapshot of this Endpoint's dropped-event tallies, for
// monitoring.Server.
func (e *Endpoint) Counters() Counters { return e.counters }
