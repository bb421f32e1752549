// Package dht implements the DHT facade (§4.G): it owns the self-id,
// routing table, dispatcher, and KRPC builder, wires the dispatcher's
// upstream event consumer, answers inbound queries, bootstraps once at
// startup, and schedules the periodic update_all / random-probe / token
// rotation maintenance timers.
package dht

import (
	"log/slog"
	"net"
	"time"

	"github.com/prxssh/dhtnode/internal/cast"
	"github.com/prxssh/dhtnode/internal/dispatcher"
	"github.com/prxssh/dhtnode/internal/krpc"
	"github.com/prxssh/dhtnode/internal/lookup"
	"github.com/prxssh/dhtnode/internal/peerstore"
	"github.com/prxssh/dhtnode/internal/routing"
	"github.com/prxssh/dhtnode/internal/token"
)

const (
	updateAllPeriod   = 120 * time.Second
	randomProbePeriod = 60 * time.Second
	tokenRotatePeriod = token.RotationPeriod
)

// Config holds everything needed to start a node.
type Config struct {
	SelfID     krpc.NodeID
	ListenAddr *net.UDPAddr
	Bootstrap  []*net.UDPAddr
	Logger     *slog.Logger
}

// DHT is a running participant node.
type DHT struct {
	cfg     Config
	logger  *slog.Logger
	table   *routing.Table
	disp    *dispatcher.Dispatcher
	builder *krpc.Builder
	lookup  *lookup.Lookup
	peers   *peerstore.Store
	tokens  *token.Manager
}

// New binds the node's UDP socket and wires its internal components, but
// does not yet start the event loop or schedule maintenance — call Run for
// that.
func New(cfg Config) (*DHT, error) {
	disp, err := dispatcher.New(cfg.ListenAddr, cfg.Logger)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewManager(time.Now())
	if err != nil {
		disp.Close()
		return nil, err
	}

	d := &DHT{
		cfg:     cfg,
		logger:  cfg.Logger,
		table:   routing.New(cfg.SelfID, time.Now()),
		disp:    disp,
		builder: krpc.NewBuilder(cfg.SelfID),
		peers:   peerstore.New(),
		tokens:  tokens,
	}
	d.lookup = lookup.New(disp, d.builder, d.observe)
	disp.SetUpstream(d.handleEvent)
	return d, nil
}

// LocalAddr returns the bound socket address.
func (d *DHT) LocalAddr() *net.UDPAddr { return d.disp.LocalAddr() }

// Close releases the node's socket.
func (d *DHT) Close() error { return d.disp.Close() }

// Stats summarizes the table for operator-facing status output.
type Stats struct {
	SelfID      krpc.NodeID
	TableSize   int
	BucketCount int
}

func (d *DHT) Stats() Stats {
	return Stats{SelfID: d.cfg.SelfID, TableSize: d.table.Size(), BucketCount: len(d.table.Buckets())}
}

// Run schedules periodic maintenance and drives the cooperative event loop
// until stop is closed. Bootstrapping against cfg.Bootstrap happens once,
// synchronously, before the periodic timers are armed.
func (d *DHT) Run(stop <-chan struct{}) {
	if len(d.cfg.Bootstrap) > 0 {
		d.bootstrap()
	}

	timers := d.disp.Timers()
	now := time.Now()
	timers.SchedulePeriodic(now, updateAllPeriod, func(any) { d.updateAll() }, nil)
	timers.SchedulePeriodic(now, randomProbePeriod, func(any) { d.randomProbe() }, nil)
	timers.SchedulePeriodic(now, tokenRotatePeriod, func(any) { d.tokens.Rotate(time.Now()) }, nil)

	for {
		select {
		case <-stop:
			return
		default:
			d.disp.Step()
		}
	}
}

// bootstrap sends find_node(self_id) directly to every configured router
// address (which has no known node id yet, so it can't go through the
// lookup package's seeded-contact model), then runs the iterative lookup
// against whatever responded to converge the table, per §4.F's join
// procedure.
func (d *DHT) bootstrap() {
	var seed []*routing.Contact
	for _, addr := range d.cfg.Bootstrap {
		q := d.builder.FindNode(d.cfg.SelfID)
		if err := d.disp.Send(q, addr, nil, true, lookup.BootstrapTimeout); err != nil {
			continue
		}
		ev := d.disp.WaitResponse(q.TxID)
		if ev.Type != dispatcher.EventResponse {
			continue
		}
		id, err := krpc.NodeIDFromBytes([]byte(stringField(ev.Remote.Result, "id")))
		if err != nil {
			continue
		}
		d.observe(id, addr.IP, addr.Port)
		seed = append(seed, routing.NewContact(id, addr.IP, addr.Port, time.Now()))
	}
	if len(seed) == 0 {
		d.logger.Warn("bootstrap: no router responded")
		return
	}
	d.lookup.FindNode(d.cfg.SelfID, seed, lookup.BootstrapTimeout)
}

func stringField(m map[string]any, key string) string {
	s, _ := cast.ToString(m[key])
	return s
}

func int64Field(m map[string]any, key string) (int64, bool) {
	n, err := cast.ToInt(m[key])
	return n, err == nil
}

// observe folds a responder or querier into the routing table, refreshing
// last_seen if it's already present.
func (d *DHT) observe(id krpc.NodeID, ip net.IP, port int) {
	d.table.Insert(id, ip, port, time.Now())
}

// handleEvent is the dispatcher's upstream consumer (§4.G): it dispatches
// on event type and, for queries, on method name.
func (d *DHT) handleEvent(ev dispatcher.Event) {
	switch ev.Type {
	case dispatcher.EventRequest:
		d.handleRequest(ev.Remote)
	case dispatcher.EventResponse:
		d.handleResponse(ev)
	case dispatcher.EventTimeout, dispatcher.EventError:
		// No liveness bookkeeping beyond last_seen is required here: a
		// contact that stops responding simply ages past the
		// INACTIVE/DEAD thresholds of §4.E and is reaped the next time
		// randomProbe walks the table.
	}
}

func (d *DHT) handleResponse(ev dispatcher.Event) {
	if ev.Remote == nil || ev.Local == nil {
		return
	}
	id, err := krpc.NodeIDFromBytes([]byte(stringField(ev.Remote.Result, "id")))
	if err != nil {
		return
	}
	d.observe(id, ev.Local.Addr.IP, ev.Local.Addr.Port)
}

// handleRequest answers an inbound query, or a late/unsolicited reply that
// the dispatcher couldn't correlate to a pending transaction — both arrive
// as EventRequest per §5. Anything that isn't a query, or is a query without
// a valid "id" argument, is silently dropped rather than answered with an
// error, since a stray reply is not itself malformed. A query with a valid
// "id" but an unknown method is answered with error 204.
func (d *DHT) handleRequest(env *krpc.Envelope) {
	if env == nil || !env.IsQuery() {
		return
	}
	querierID, err := krpc.NodeIDFromBytes([]byte(stringField(env.Args, "id")))
	if err != nil {
		return
	}
	d.observe(querierID, env.From.IP, env.From.Port)

	switch env.Method {
	case krpc.MethodPing:
		d.disp.Reply(d.builder.PingResponse(env.TxID), env.From)
	case krpc.MethodFindNode:
		d.replyFindNode(env)
	case krpc.MethodGetPeers:
		d.replyGetPeers(env)
	case krpc.MethodAnnouncePeer:
		d.replyAnnouncePeer(env)
	default:
		d.disp.Reply(d.builder.Error(env.TxID, krpc.ErrMethodUnknown, krpc.ErrorDescription(krpc.ErrMethodUnknown)), env.From)
	}
}

func (d *DHT) replyFindNode(env *krpc.Envelope) {
	target, err := krpc.NodeIDFromBytes([]byte(stringField(env.Args, "target")))
	if err != nil {
		d.disp.Reply(d.builder.Error(env.TxID, krpc.ErrProtocol, "missing target"), env.From)
		return
	}
	nodes := d.compactNear(target)
	d.disp.Reply(d.builder.FindNodeResponse(env.TxID, nodes), env.From)
}

func (d *DHT) replyGetPeers(env *krpc.Envelope) {
	infoHash, err := krpc.NodeIDFromBytes([]byte(stringField(env.Args, "info_hash")))
	if err != nil {
		d.disp.Reply(d.builder.Error(env.TxID, krpc.ErrProtocol, "missing info_hash"), env.From)
		return
	}
	tok := d.tokens.Generate(env.From.IP)

	if values := d.peers.Get(infoHash, time.Now()); len(values) > 0 {
		d.disp.Reply(d.builder.GetPeersResponseValues(env.TxID, tok, values), env.From)
		return
	}
	nodes := d.compactNear(infoHash)
	d.disp.Reply(d.builder.GetPeersResponseNodes(env.TxID, tok, nodes), env.From)
}

func (d *DHT) replyAnnouncePeer(env *krpc.Envelope) {
	infoHash, err := krpc.NodeIDFromBytes([]byte(stringField(env.Args, "info_hash")))
	if err != nil {
		d.disp.Reply(d.builder.Error(env.TxID, krpc.ErrProtocol, "missing info_hash"), env.From)
		return
	}
	tok := stringField(env.Args, "token")
	if !d.tokens.Validate(env.From.IP, tok) {
		d.disp.Reply(d.builder.Error(env.TxID, krpc.ErrProtocol, "bad token"), env.From)
		return
	}
	port, ok := int64Field(env.Args, "port")
	if !ok {
		d.disp.Reply(d.builder.Error(env.TxID, krpc.ErrProtocol, "missing port"), env.From)
		return
	}
	d.peers.Store(infoHash, env.From.IP, int(port), time.Now())
	d.disp.Reply(d.builder.AnnouncePeerResponse(env.TxID), env.From)
}

// compactNear renders the table's closest known contacts to target as a
// concatenated compact-node blob, skipping any that fail to compact (a
// non-IPv4 endpoint, which this node never stores but guards against
// anyway).
func (d *DHT) compactNear(target krpc.NodeID) []byte {
	near := d.table.FindNearNodes(target)
	out := make([]byte, 0, len(near)*krpc.CompactNodeLen)
	for _, c := range near {
		enc, err := c.Compact()
		if err != nil {
			continue
		}
		out = append(out, enc...)
	}
	return out
}

// updateAll refreshes every bucket that has gone stale, per §4.E: issue a
// find_node probe for a random id within the bucket's range, which folds
// any responder into the table and, if the bucket is the forkable home
// bucket, may trigger a split on the following insert.
func (d *DHT) updateAll() {
	now := time.Now()
	for _, b := range d.table.BucketsNeedingRefresh(now) {
		d.refreshBucket(b)
	}
	d.peers.Cleanup(now)
}

func (d *DHT) refreshBucket(b *routing.Bucket) {
	seed := b.All()
	if len(seed) == 0 {
		return
	}
	target, err := d.table.RandomIDInBucket(b)
	if err != nil {
		return
	}
	d.lookup.FindNode(target, seed, lookup.QueryTimeout)
}

// randomProbe walks every bucket, removing DEAD contacts outright (promoting
// a replacement-cache entry in their place) and probing INACTIVE ones with a
// find_node addressed to their own id — which doubles as a liveness probe:
// a response refreshes the contact's last_seen (the nodes listed in the
// answer are not added to the table), and a timeout removes the contact —
// so aging entries get a chance to refresh last_seen before drifting further
// toward DEAD, independent of lookup traffic.
func (d *DHT) randomProbe() {
	now := time.Now()
	for _, b := range d.table.Buckets() {
		for _, c := range b.All() {
			switch c.StateAt(now) {
			case routing.Active:
				continue
			case routing.Dead:
				d.table.Remove(c.ID)
			case routing.Inactive:
				d.probe(c)
			}
		}
	}
}

func (d *DHT) probe(c *routing.Contact) {
	q := d.builder.FindNode(c.ID)
	d.disp.Send(q, c.UDPAddr(), func(ev dispatcher.Event) {
		switch ev.Type {
		case dispatcher.EventResponse:
			c.Touch(time.Now())
		case dispatcher.EventTimeout:
			d.table.Remove(c.ID)
		}
	}, false, lookup.QueryTimeout)
}
