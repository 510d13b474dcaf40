package can

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/media"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/types"
)

// DeliverFunc receives one fully reassembled transfer.
type DeliverFunc func(types.Transfer)

// Transport drives one CAN media interface: it fragments outgoing
// transfers into the TxQueue, drains it whenever the media signals room,
// and reassembles inbound frames per spec.md sections 4.3 and 5.
type Transport struct {
	media     media.CAN
	ex        *executor.Executor
	localNode types.NodeID

	// txPool is the allocator every pending TX frame and RX reassembly
	// buffer on this media is checked out from — the media's own
	// TxMemory(), reused for RX too since one media interface has exactly
	// one buffer budget to account for (spec.md section 3).
	txPool pool.Pool

	tx                *TxQueue
	messageRx         map[types.PortID]*Reassembler
	requestRx         map[types.PortID]*Reassembler
	responseRx        map[types.PortID]*Reassembler
	transferIDTimeout executor.Duration
	extent            int

	deliver DeliverFunc

	pushRetry executor.Handle
	popPump   executor.Handle

	MediaErrors uint64
}

// Config bundles the tunables spec.md section 6 names.
type Config struct {
	TxQueueCapacity   int
	TransferIDTimeout executor.Duration
	Extent            int
}

// New builds a Transport over m, driven by ex, delivering completed
// transfers to deliver.
func New(ex *executor.Executor, m media.CAN, localNode types.NodeID, cfg Config, deliver DeliverFunc) *Transport {
	t := &Transport{
		media:             m,
		ex:                ex,
		localNode:         localNode,
		txPool:            m.TxMemory(),
		tx:                NewTxQueue(cfg.TxQueueCapacity, m.TxMemory()),
		messageRx:         make(map[types.PortID]*Reassembler),
		requestRx:         make(map[types.PortID]*Reassembler),
		responseRx:        make(map[types.PortID]*Reassembler),
		transferIDTimeout: cfg.TransferIDTimeout,
		extent:            cfg.Extent,
		deliver:           deliver,
	}

	t.pushRetry, _ = ex.RegisterCallback(func(executor.TimePoint) { t.drainTx() }, false)
	m.RegisterPushCallback(func() { t.pushRetry.ScheduleAt(ex.Now()) })

	t.popPump, _ = ex.RegisterCallback(func(executor.TimePoint) { t.PumpRX() }, false)
	m.RegisterPopCallback(func() { t.popPump.ScheduleAt(ex.Now()) })

	return t
}

// OpenMessageSession opens (or returns) the reassembler for subject port,
// bounding its reassembly buffer to extent bytes (the subscriber's declared
// extent; extent<=0 falls back to the transport's configured default). Per
// the spec's at-most-one-RX-session-per-port invariant — enforced one layer
// up, in the session tree — this method is idempotent so that layer can
// call it freely. The error return exists only so CAN and UDP transports
// satisfy the same presentation-layer interface — opening a message
// session on CAN never fails (there is no group to join).
func (t *Transport) OpenMessageSession(port types.PortID, extent int) error {
	if _, ok := t.messageRx[port]; !ok {
		t.messageRx[port] = NewReassembler(t.txPool, t.resolveExtent(extent), t.transferIDTimeout)
		t.refreshFilters()
	}
	return nil
}

func (t *Transport) resolveExtent(extent int) int {
	if extent > 0 {
		return extent
	}
	return t.extent
}

// CloseMessageSession drops the reassembler for subject port.
func (t *Transport) CloseMessageSession(port types.PortID) {
	if _, ok := t.messageRx[port]; !ok {
		return
	}
	delete(t.messageRx, port)
	t.refreshFilters()
}

// OpenRequestSession / OpenResponseSession mirror OpenMessageSession for
// service ports, on the server and client sides respectively.
func (t *Transport) OpenRequestSession(port types.PortID, extent int) {
	if _, ok := t.requestRx[port]; !ok {
		t.requestRx[port] = NewReassembler(t.txPool, t.resolveExtent(extent), t.transferIDTimeout)
		t.refreshFilters()
	}
}

func (t *Transport) OpenResponseSession(port types.PortID, extent int) {
	if _, ok := t.responseRx[port]; !ok {
		t.responseRx[port] = NewReassembler(t.txPool, t.resolveExtent(extent), t.transferIDTimeout)
		t.refreshFilters()
	}
}

// CloseRequestSession / CloseResponseSession mirror CloseMessageSession.
func (t *Transport) CloseRequestSession(port types.PortID) {
	if _, ok := t.requestRx[port]; !ok {
		return
	}
	delete(t.requestRx, port)
	t.refreshFilters()
}

func (t *Transport) CloseResponseSession(port types.PortID) {
	if _, ok := t.responseRx[port]; !ok {
		return
	}
	delete(t.responseRx, port)
	t.refreshFilters()
}

// refreshFilters recomputes the hardware acceptance filter set from the
// currently open sessions and installs it, per spec.md section 4.3: one
// filter per open subject, plus one filter admitting every service frame
// addressed to the local node while any service session is open. Nothing
// is installed before the first session opens or closes. MediaErrors
// counts install failures the same way a failed
// Push/Pop does, since a rejected filter set is a media-layer fault, not a
// caller error.
func (t *Transport) refreshFilters() {
	subjects := make([]types.PortID, 0, len(t.messageRx))
	for port := range t.messageRx {
		subjects = append(subjects, port)
	}
	wantServices := len(t.requestRx) > 0 || len(t.responseRx) > 0

	if err := t.media.SetFilters(DeriveFilters(subjects, t.localNode, wantServices)); err != nil {
		t.MediaErrors++
	}
}

// Send fragments transfer and enqueues its frames for transmission,
// returning types.ErrCapacity if the TX queue cannot accept them (after
// the priority-eviction rule in TxQueue.Push).
func (t *Transport) Send(transfer types.Transfer, deadline executor.TimePoint) error {
	mtu := t.media.MTU()

	if transfer.Source.IsAnonymous() && wouldFragment(len(transfer.Payload), mtu) {
		// An anonymous node has no identity the receiving end could key a
		// multi-frame reassembly on, so libuavcan rejects the attempt
		// outright rather than truncate or invent a temporary node-id.
		return types.NewError(types.ErrArgument)
	}

	var canID uint32
	switch transfer.Kind {
	case types.KindMessage:
		canID = EncodeMessageID(transfer.Priority, transfer.Port, transfer.Source, transfer.Source.IsAnonymous())
	case types.KindRequest:
		canID = EncodeServiceID(transfer.Priority, transfer.Port, transfer.Source, transfer.Destination.Node(), true)
	case types.KindResponse:
		canID = EncodeServiceID(transfer.Priority, transfer.Port, transfer.Source, transfer.Destination.Node(), false)
	}

	frames, err := fragmentIntoPool(t.txPool, transfer.Payload, mtu, uint8(transfer.TransferID&0x1F))
	if err != nil {
		return err
	}

	for i, data := range frames {
		f := &Frame{CANID: canID, Data: data, Deadline: deadline, Priority: transfer.Priority}
		if err := t.tx.Push(f); err != nil {
			t.txPool.Release(data)
			for _, rest := range frames[i+1:] {
				t.txPool.Release(rest)
			}
			return err
		}
	}

	t.drainTx()
	return nil
}

func (t *Transport) drainTx() {
	now := t.ex.Now()
	_, _, err := t.tx.Drain(now, t.media.Push)
	if err != nil {
		t.MediaErrors++
	}
}

// PumpRX drains every frame currently buffered by the media, routing each
// to its reassembler and delivering completed transfers.
func (t *Transport) PumpRX() {
	buf := make([]byte, 64)
	for {
		frame, err := t.media.Pop(buf)
		if err != nil {
			t.MediaErrors++
			return
		}
		if frame == nil {
			return
		}
		t.routeFrame(frame)
	}
}

func (t *Transport) routeFrame(frame *media.CANFrame) {
	decoded := DecodeID(frame.ID)

	var r *Reassembler
	var port types.PortID
	switch {
	case !decoded.IsService:
		port = decoded.Subject
		r = t.messageRx[port]
	case decoded.IsRequest:
		port = decoded.Service
		r = t.requestRx[port]
	default:
		port = decoded.Service
		r = t.responseRx[port]
	}
	if r == nil {
		return // no open session on this port: not our concern
	}

	payload, done := r.Feed(frame.Timestamp, port, decoded.Source, frame.ID, frame.Data)
	if !done {
		return
	}

	_, _, _, tid := ParseTailByte(frame.Data[len(frame.Data)-1])

	xfer := types.Transfer{
		Priority:   decoded.Priority,
		TransferID: types.TransferID(tid),
		Source:     decoded.Source,
		Port:       port,
		Timestamp:  frame.Timestamp.WallClock(),
		Payload:    payload,
	}
	if decoded.IsService {
		xfer.Destination = types.To(decoded.Destination)
		if decoded.IsRequest {
			xfer.Kind = types.KindRequest
		} else {
			xfer.Kind = types.KindResponse
		}
	} else {
		xfer.Destination = types.Broadcast()
		xfer.Kind = types.KindMessage
	}

	t.deliver(xfer)
}

// Close unregisters the transport's executor callbacks.
func (t *Transport) Close() {
	t.pushRetry.Release()
	t.popPump.Release()
}

// TransferIDBits reports the CAN tail byte's 5-bit transfer-id field.
func (t *Transport) TransferIDBits() uint { return 5 }

// TxQueueLen reports how many frames are currently pending transmission,
// for monitoring.Server.
func (t *Transport) TxQueueLen() int { return t.tx.Len() }

// TxQueueDropped reports how many frames this transport has ever dropped
// from its TX queue (evicted under pressure or expired), for
// monitoring.Server.
func (t *Transport) TxQueueDropped() uint64 { return t.tx.Dropped() }

// SessionCounts reports the number of open message, request and response
// sessions, for monitoring.Server.
func (t *Transport) SessionCounts() (message, request, response int) {
	return len(t.messageRx), len(t.requestRx), len(t.responseRx)
}
