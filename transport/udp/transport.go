package udp

import (
	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/media"
	"github.com/OpenCyphal/libuavcan/pool"
	"github.com/OpenCyphal/libuavcan/types"
)

// DeliverFunc receives one fully reassembled transfer.
type DeliverFunc func(types.Transfer)

// Config bundles the tunables spec.md section 6 names, shared with
// transport/can.Config.
type Config struct {
	TxQueueCapacity   int
	TransferIDTimeout executor.Duration
	Extent            int
}

// Transport drives one Cyphal/UDP media interface: fragmenting outgoing
// transfers into the TxQueue, draining it whenever the media signals room,
// and reassembling inbound datagrams per spec.md sections 4.4 and 6.
type Transport struct {
	media     media.UDP
	ex        *executor.Executor
	localNode types.NodeID

	// txPool is the allocator every pending TX datagram and RX reassembly
	// buffer on this media is checked out from, the UDP analogue of
	// transport/can.Transport.txPool.
	txPool pool.Pool

	tx         *TxQueue
	messageRx  map[types.PortID]*Reassembler
	requestRx  map[types.PortID]*Reassembler
	responseRx map[types.PortID]*Reassembler
	cfg        Config

	deliver DeliverFunc

	pushRetry executor.Handle
	popPump   executor.Handle

	MediaErrors uint64
}

// New builds a Transport over m, driven by ex, delivering completed
// transfers to deliver.
func New(ex *executor.Executor, m media.UDP, localNode types.NodeID, cfg Config, deliver DeliverFunc) *Transport {
	t := &Transport{
		media:      m,
		ex:         ex,
		localNode:  localNode,
		txPool:     m.TxMemory(),
		tx:         NewTxQueue(cfg.TxQueueCapacity, m.TxMemory()),
		messageRx:  make(map[types.PortID]*Reassembler),
		requestRx:  make(map[types.PortID]*Reassembler),
		responseRx: make(map[types.PortID]*Reassembler),
		cfg:        cfg,
		deliver:    deliver,
	}

	t.pushRetry, _ = ex.RegisterCallback(func(executor.TimePoint) { t.drainTx() }, false)
	m.RegisterPushCallback(func() { t.pushRetry.ScheduleAt(ex.Now()) })

	t.popPump, _ = ex.RegisterCallback(func(executor.TimePoint) { t.PumpRX() }, false)
	m.RegisterPopCallback(func() { t.popPump.ScheduleAt(ex.Now()) })

	return t
}

// OpenMessageSession joins the subject's multicast group and opens its
// reassembler, bounded to extent bytes (extent<=0 falls back to the
// transport's configured default), idempotently.
func (t *Transport) OpenMessageSession(port types.PortID, extent int) error {
	if _, ok := t.messageRx[port]; ok {
		return nil
	}
	if err := t.media.JoinGroup(SubjectMulticastGroup(port)); err != nil {
		return err
	}
	t.messageRx[port] = NewReassembler(t.txPool, t.resolveExtent(extent), t.cfg.TransferIDTimeout)
	return nil
}

func (t *Transport) resolveExtent(extent int) int {
	if extent > 0 {
		return extent
	}
	return t.cfg.Extent
}

// CloseMessageSession leaves the subject's multicast group and drops its
// reassembler.
func (t *Transport) CloseMessageSession(port types.PortID) {
	if _, ok := t.messageRx[port]; !ok {
		return
	}
	t.media.LeaveGroup(SubjectMulticastGroup(port))
	delete(t.messageRx, port)
}

// OpenRequestSession / OpenResponseSession open service sessions; services
// are unicast, so no group membership is required.
func (t *Transport) OpenRequestSession(port types.PortID, extent int) {
	if _, ok := t.requestRx[port]; !ok {
		t.requestRx[port] = NewReassembler(t.txPool, t.resolveExtent(extent), t.cfg.TransferIDTimeout)
	}
}

func (t *Transport) OpenResponseSession(port types.PortID, extent int) {
	if _, ok := t.responseRx[port]; !ok {
		t.responseRx[port] = NewReassembler(t.txPool, t.resolveExtent(extent), t.cfg.TransferIDTimeout)
	}
}

// CloseRequestSession / CloseResponseSession mirror CloseMessageSession;
// services are unicast, so there is no group to leave.
func (t *Transport) CloseRequestSession(port types.PortID) {
	delete(t.requestRx, port)
}

func (t *Transport) CloseResponseSession(port types.PortID) {
	delete(t.responseRx, port)
}

// Send fragments transfer into datagram(s) and enqueues them for
// transmission.
func (t *Transport) Send(transfer types.Transfer, deadline executor.TimePoint) error {
	h := Header{
		Priority:   transfer.Priority,
		Source:     transfer.Source,
		Port:       transfer.Port,
		TransferID: transfer.TransferID,
	}

	var dst media.UDPEndpoint
	switch transfer.Kind {
	case types.KindMessage:
		h.Destination = types.AnonymousNodeID
		dst = SubjectMulticastGroup(transfer.Port)
	case types.KindRequest:
		h.IsService = true
		h.IsRequest = true
		h.Destination = transfer.Destination.Node()
		dst = ServiceUnicastEndpoint(transfer.Destination.Node())
	case types.KindResponse:
		h.IsService = true
		h.IsRequest = false
		h.Destination = transfer.Destination.Node()
		dst = ServiceUnicastEndpoint(transfer.Destination.Node())
	}

	mtu := t.media.MTU()
	frames, err := fragmentIntoPool(t.txPool, transfer.Payload, mtu, h)
	if err != nil {
		return err
	}

	for i, data := range frames {
		f := &Frame{Dest: dst, Data: data, Deadline: deadline, Priority: transfer.Priority}
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

// PumpRX drains every datagram currently buffered by the media, routing
// each to its reassembler and delivering completed transfers.
func (t *Transport) PumpRX() {
	buf := make([]byte, 2048)
	for {
		datagram, err := t.media.Pop(buf)
		if err != nil {
			t.MediaErrors++
			return
		}
		if datagram == nil {
			return
		}
		t.routeDatagram(datagram)
	}
}

func (t *Transport) routeDatagram(datagram *media.UDPDatagram) {
	h, ok := DecodeHeader(datagram.Data)
	if !ok {
		t.MediaErrors++
		return
	}
	body := datagram.Data[HeaderSize:]

	var r *Reassembler
	switch {
	case !h.IsService:
		r = t.messageRx[h.Port]
	case h.IsRequest:
		r = t.requestRx[h.Port]
	default:
		r = t.responseRx[h.Port]
	}
	if r == nil {
		return
	}

	payload, done := r.Feed(datagram.Timestamp, h, body)
	if !done {
		return
	}

	xfer := types.Transfer{
		Priority:   h.Priority,
		TransferID: h.TransferID,
		Source:     h.Source,
		Port:       h.Port,
		Timestamp:  datagram.Timestamp.WallClock(),
		Payload:    payload,
	}
	if h.IsService {
		xfer.Destination = types.To(h.Destination)
		if h.IsRequest {
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

// TransferIDBits reports the UDP header's 64-bit transfer-id field.
func (t *Transport) TransferIDBits() uint { return 64 }

// TxQueueLen reports how many datagrams are currently pending transmission,
// for monitoring.Server.
func (t *Transport) TxQueueLen() int { return t.tx.Len() }

// TxQueueDropped reports how many datagrams this transport has ever dropped
// from its TX queue (evicted under pressure or expired), for
// monitoring.Server.
func (t *Transport) TxQueueDropped() uint64 { return t.tx.Dropped() }

// SessionCounts reports the number of open message, request and response
// sessions, for monitoring.Server.
func (t *Transport) SessionCounts() (message, request, response int) {
	return len(t.messageRx), len(t.requestRx), len(t.responseRx)
}
