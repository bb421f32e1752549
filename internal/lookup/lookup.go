// Package lookup implements the non-recursive iterative find_node
// convergence procedure of §4.F, driven synchronously through the
// dispatcher's cooperative WaitResponse rather than a pool of goroutines.
package lookup

import (
	"bytes"
	"net"
	"time"

	"github.com/prxssh/dhtnode/internal/cast"
	"github.com/prxssh/dhtnode/internal/dispatcher"
	"github.com/prxssh/dhtnode/internal/krpc"
	"github.com/prxssh/dhtnode/internal/routing"
)

// K is the maximum size of the final result.
const K = 8

// candidateWidth is how many contacts are retained as "near" between
// rounds, wider than the final K to give the search room to correct course.
const candidateWidth = 16

const (
	// QueryTimeout is the per-request timeout used by ordinary lookups.
	QueryTimeout = 2 * time.Second
	// BootstrapTimeout is the longer timeout used for the initial join,
	// since bootstrap routers are often more loaded or distant.
	BootstrapTimeout = 3 * time.Second
)

// ObserveFunc is called with every contact observed responding during a
// lookup, so the caller (the DHT facade) can fold it into the routing
// table per §4.E, independent of whether it ends up in the final result.
type ObserveFunc func(id krpc.NodeID, ip net.IP, port int)

// Lookup runs iterative find_node convergence against a dispatcher and KRPC
// builder, reusing both across calls (they belong to the owning DHT node).
type Lookup struct {
	d       *dispatcher.Dispatcher
	builder *krpc.Builder
	observe ObserveFunc
}

// New returns a Lookup bound to a dispatcher and KRPC builder. observe, if
// non-nil, is invoked for every responder seen.
func New(d *dispatcher.Dispatcher, builder *krpc.Builder, observe ObserveFunc) *Lookup {
	return &Lookup{d: d, builder: builder, observe: observe}
}

var maxDistance = func() [krpc.IDLen]byte {
	var d [krpc.IDLen]byte
	for i := range d {
		d[i] = 0xFF
	}
	return d
}()

func distance(target, id krpc.NodeID) [krpc.IDLen]byte {
	var d [krpc.IDLen]byte
	for i := range d {
		d[i] = target[i] ^ id[i]
	}
	return d
}

// FindNode converges on the K closest known contacts to target, seeding the
// search from seed (the table's find_near_nodes result, or a bootstrap
// address list on join). It returns at most K contacts.
func (l *Lookup) FindNode(target krpc.NodeID, seed []*routing.Contact, timeout time.Duration) []*routing.Contact {
	if len(seed) == 0 {
		return nil
	}

	contacted := make(map[krpc.NodeID]bool)
	near := dedupCap(seed, candidateWidth)

	distanceCur := distance(target, near[0].ID)
	distanceMin := maxDistance

	for bytes.Compare(distanceCur[:], distanceMin[:]) < 0 {
		discovered := l.queryRound(target, near, contacted, timeout)
		if len(discovered) == 0 {
			break
		}

		union := append(append([]*routing.Contact{}, near...), discovered...)
		union = dedupCap(union, len(union))
		sortContactsByDistance(target, union)
		if len(union) > candidateWidth {
			union = union[:candidateWidth]
		}
		near = union

		distanceMin = distanceCur
		distanceCur = distance(target, near[0].ID)
	}

	if len(near) > K {
		near = near[:K]
	}
	return near
}

// queryRound sends find_node(target) to every contact in near not already
// contacted, waits synchronously for each reply, and returns every contact
// listed in the successful responses other than self (already-known
// contacts and duplicates included). Timeouts and
// malformed replies are ignored, per §4.F step 3b.
func (l *Lookup) queryRound(target krpc.NodeID, near []*routing.Contact, contacted map[krpc.NodeID]bool, timeout time.Duration) []*routing.Contact {
	type outstanding struct {
		txID string
		addr *net.UDPAddr
	}
	var inflight []outstanding

	for _, c := range near {
		if contacted[c.ID] {
			continue
		}
		contacted[c.ID] = true
		q := l.builder.FindNode(target)
		addr := c.UDPAddr()
		if err := l.d.Send(q, addr, nil, true, timeout); err != nil {
			continue
		}
		inflight = append(inflight, outstanding{txID: q.TxID, addr: addr})
	}

	var discovered []*routing.Contact
	for _, o := range inflight {
		ev := l.d.WaitResponse(o.txID)
		if ev.Type != dispatcher.EventResponse {
			continue
		}
		nodes := parseNodes(ev.Remote)
		if nodes == nil {
			continue
		}
		if respID, err := krpc.NodeIDFromBytes([]byte(stringField(ev.Remote.Result, "id"))); err == nil && l.observe != nil {
			l.observe(respID, o.addr.IP, o.addr.Port)
		}
		for _, n := range nodes {
			if n.ID == l.builder.SelfID() {
				continue
			}
			discovered = append(discovered, &routing.Contact{ID: n.ID, IP: n.IP, Port: n.Port})
		}
	}
	return discovered
}

func stringField(d map[string]any, key string) string {
	s, _ := cast.ToString(d[key])
	return s
}

func parseNodes(env *krpc.Envelope) []krpc.DecodedNode {
	if env == nil || env.Result == nil {
		return nil
	}
	raw, ok := env.Result["nodes"].(string)
	if !ok {
		return nil
	}
	nodes, err := krpc.DecodeCompactNodes([]byte(raw))
	if err != nil {
		return nil
	}
	return nodes
}

func idsOf(cs []*routing.Contact) []krpc.NodeID {
	ids := make([]krpc.NodeID, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}

func sortContactsByDistance(target krpc.NodeID, cs []*routing.Contact) {
	ids := idsOf(cs)
	routing.SortByDistance(target, ids)
	byID := make(map[krpc.NodeID]*routing.Contact, len(cs))
	for _, c := range cs {
		byID[c.ID] = c
	}
	for i, id := range ids {
		cs[i] = byID[id]
	}
}

func dedupCap(cs []*routing.Contact, capN int) []*routing.Contact {
	seen := make(map[krpc.NodeID]bool, len(cs))
	out := make([]*routing.Contact, 0, len(cs))
	for _, c := range cs {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	if len(out) > capN {
		out = out[:capN]
	}
	return out
}
