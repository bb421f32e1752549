// Package dispatcher implements the cooperative event loop that owns the
// UDP socket, correlates outgoing KRPC queries with their replies by
// transaction id, and exposes a synchronous wait-for-response facility used
// by iterative lookups.
package dispatcher

import (
	"container/heap"
	"log/slog"
	"net"
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
	"github.com/prxssh/dhtnode/internal/timers"
)

// EventType classifies what Step produced on a given turn.
type EventType int

const (
	EventStartup EventType = iota
	EventQuit
	EventTimeout
	EventRequest
	EventResponse
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStartup:
		return "startup"
	case EventQuit:
		return "quit"
	case EventTimeout:
		return "timeout"
	case EventRequest:
		return "request"
	case EventResponse:
		return "response"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is what the dispatcher hands to the upstream consumer and, for
// correlated kinds, stores in the sync-wait map. REQUEST carries only the
// remote envelope; the other kinds carry both the local PendingRequest and
// the remote envelope that resolved it (nil remote for TIMEOUT).
type Event struct {
	Type   EventType
	Local  *PendingRequest
	Remote *krpc.Envelope
}

// minTimeout is the floor spec §4.D requires: "minimum effective timeout is
// 1 s", regardless of what the caller asked for.
const minTimeout = 1 * time.Second

// pollInterval bounds how long a single Step call blocks on the socket.
const pollInterval = 200 * time.Millisecond

// PendingRequest is an outgoing query awaiting correlation or timeout.
type PendingRequest struct {
	TxID     string
	Envelope *krpc.Envelope
	Addr     *net.UDPAddr
	Deadline time.Time
	Callback func(Event)
	Sync     bool

	heapIndex int
}

// Dispatcher is the single-threaded cooperative core described in §4.D. It
// is not safe for concurrent use; exactly one goroutine — the host loop —
// may call Step or WaitResponse.
type Dispatcher struct {
	logger *slog.Logger
	conn   *net.UDPConn

	pending  map[string]*PendingRequest
	deadline *pendingHeap
	timers   *timers.Queue

	syncWait map[string]bool
	resolved map[string]Event

	upstream func(Event)

	buf [1500]byte
}

// New binds a UDP socket at laddr and returns a Dispatcher ready to Step.
func New(laddr *net.UDPAddr, logger *slog.Logger) (*Dispatcher, error) {
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		logger:   logger,
		conn:     conn,
		pending:  make(map[string]*PendingRequest),
		deadline: newPendingHeap(),
		timers:   timers.NewQueue(),
		syncWait: make(map[string]bool),
		resolved: make(map[string]Event),
	}, nil
}

// SetUpstream registers the single consumer every produced event (timeout,
// request, response, error) is delivered to, before any sync-wait or
// per-request callback handling.
func (d *Dispatcher) SetUpstream(fn func(Event)) { d.upstream = fn }

// Timers exposes the dispatcher's timer queue so the DHT facade can
// schedule periodic maintenance (update_all, random probes, token rotation)
// without the dispatcher needing to know what they do.
func (d *Dispatcher) Timers() *timers.Queue { return d.timers }

// LocalAddr returns the bound socket address.
func (d *Dispatcher) LocalAddr() *net.UDPAddr { return d.conn.LocalAddr().(*net.UDPAddr) }

// Close releases the UDP socket.
func (d *Dispatcher) Close() error { return d.conn.Close() }

// Send registers a PendingRequest for env's transaction id BEFORE handing
// the datagram to the socket — eliminating the receive-before-register
// race — then sends it. timeout is clamped to a 1 s floor.
func (d *Dispatcher) Send(env *krpc.Envelope, addr *net.UDPAddr, callback func(Event), sync bool, timeout time.Duration) error {
	if timeout < minTimeout {
		timeout = minTimeout
	}
	req := &PendingRequest{
		TxID:     env.TxID,
		Envelope: env,
		Addr:     addr,
		Deadline: time.Now().Add(timeout),
		Callback: callback,
		Sync:     sync,
	}
	d.pending[req.TxID] = req
	heap.Push(d.deadline, req)
	if sync {
		d.syncWait[req.TxID] = true
	}

	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	if _, err := d.conn.WriteToUDP(raw, addr); err != nil {
		// Transport failures are transient per §7: log and let the
		// request resolve via its deadline instead of surfacing an
		// early error.
		d.logger.Warn("send failed, resolving via deadline", "addr", addr, "err", err)
	}
	return nil
}

// Reply sends a pre-built response or error envelope to addr without
// registering a PendingRequest: responses need no correlation on the
// sending side, only on the side that issued the original query.
func (d *Dispatcher) Reply(env *krpc.Envelope, addr *net.UDPAddr) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	_, err = d.conn.WriteToUDP(raw, addr)
	return err
}

// Step runs one turn of the cooperative loop: poll the socket with a short
// timeout; if nothing arrived, fire due timers and at most one expired
// PendingRequest as a TIMEOUT. Any event produced is delivered to the
// upstream consumer, folded into the sync-wait map if awaited, and passed
// to its per-request callback.
func (d *Dispatcher) Step() {
	now := time.Now()

	d.conn.SetReadDeadline(now.Add(pollInterval))
	n, from, err := d.conn.ReadFromUDP(d.buf[:])

	var ev *Event
	switch {
	case err == nil:
		ev = d.processDatagram(d.buf[:n], from)
	default:
		d.timers.Tick(now)
		if d.deadline.Len() > 0 && !d.deadline.items[0].Deadline.After(now) {
			ev = d.processTimeout()
		}
	}

	if ev == nil {
		return
	}
	d.deliver(*ev)
}

func (d *Dispatcher) processDatagram(data []byte, from *net.UDPAddr) *Event {
	env, err := krpc.ParseEnvelope(data, from)
	if err != nil {
		d.logger.Debug("dropping malformed datagram", "from", from, "err", err)
		return nil
	}

	req, known := d.pending[env.TxID]
	if !known {
		// Unsolicited: either a genuine inbound query, or a
		// late-arriving reply to a transaction we already timed out.
		// Both are REQUEST-shaped per §5 ("classified as an
		// unsolicited REQUEST-shaped event and dropped by the facade").
		return &Event{Type: EventRequest, Remote: env}
	}
	delete(d.pending, env.TxID)
	req.heapIndex = -1 // lazily dropped from the heap on pop

	if env.IsError() {
		return &Event{Type: EventError, Local: req, Remote: env}
	}
	return &Event{Type: EventResponse, Local: req, Remote: env}
}

func (d *Dispatcher) processTimeout() *Event {
	req := heap.Pop(d.deadline).(*PendingRequest)
	if _, stillPending := d.pending[req.TxID]; !stillPending {
		// Already resolved by a response; the heap entry was stale.
		return nil
	}
	delete(d.pending, req.TxID)
	return &Event{Type: EventTimeout, Local: req}
}

func (d *Dispatcher) deliver(ev Event) {
	if d.upstream != nil {
		d.upstream(ev)
	}
	if ev.Local != nil && d.syncWait[ev.Local.TxID] {
		delete(d.syncWait, ev.Local.TxID)
		d.resolved[ev.Local.TxID] = ev
	}
	if ev.Local != nil && ev.Local.Callback != nil {
		ev.Local.Callback(ev)
	}
}

// WaitResponse inserts tid into the wait-set and re-enters Step until the
// sync-wait map contains it, then removes and returns the resolving event.
// It is cooperative: it keeps processing every event, including unrelated
// ones, while waiting, so it never blocks the rest of the node.
func (d *Dispatcher) WaitResponse(tid string) Event {
	d.syncWait[tid] = true
	for {
		if ev, ok := d.resolved[tid]; ok {
			delete(d.resolved, tid)
			return ev
		}
		d.Step()
	}
}
