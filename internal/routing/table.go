package routing

import (
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
)

// Table is an ordered list of buckets whose ranges partition the full
// 2^160 id space without overlap. Exactly one bucket — the last one in the
// list — is the "home" bucket, the one whose range contains self-id; it is
// the only bucket eligible for further splitting.
type Table struct {
	selfID  krpc.NodeID
	buckets []*Bucket
}

// New returns a routing table seeded with a single bucket covering the
// whole id space.
func New(selfID krpc.NodeID, now time.Time) *Table {
	return &Table{
		selfID:  selfID,
		buckets: []*Bucket{NewRootBucket(now)},
	}
}

// home is always the last bucket in the list: see the Table doc.
func (t *Table) home() *Bucket { return t.buckets[len(t.buckets)-1] }

// bucketFor returns the bucket owning id's range and whether it is home.
func (t *Table) bucketFor(id krpc.NodeID) (*Bucket, bool) {
	p := PrefixLen(t.selfID, id)
	home := t.home()
	if p >= home.Index {
		return home, true
	}
	for _, b := range t.buckets[:len(t.buckets)-1] {
		if b.Index == p {
			return b, false
		}
	}
	// Unreachable if the partition invariant holds: every prefix length
	// less than home.Index is covered by exactly one frozen bucket.
	return home, true
}

// Insert folds an observed contact into the table, splitting the home
// bucket first if it is full and forkable.
func (t *Table) Insert(id krpc.NodeID, ip net.IP, port int, now time.Time) {
	if id == t.selfID {
		return
	}
	b, isHome := t.bucketFor(id)
	if isHome && b.IsFull(true) && b.CanFork(true) {
		t.split(b)
		b, isHome = t.bucketFor(id)
	}

	b.Insert(NewContact(id, ip, port, now), isHome, now)
}

// split replaces the home bucket with its left/right children per §4.E.
func (t *Table) split(home *Bucket) {
	left, right := home.split(t.selfID, time.Now())
	n := len(t.buckets)
	t.buckets[n-1] = left
	t.buckets = append(t.buckets, right)
}

// Remove deletes a contact from the table, wherever it lives.
func (t *Table) Remove(id krpc.NodeID) {
	b, _ := t.bucketFor(id)
	b.Remove(id)
}

// Get looks up a contact by id.
func (t *Table) Get(id krpc.NodeID) (*Contact, bool) {
	b, _ := t.bucketFor(id)
	return b.Get(id)
}

// Buckets returns the table's buckets in list order (read-only use).
func (t *Table) Buckets() []*Bucket { return t.buckets }

// IsHome reports whether b is the table's current home bucket.
func (t *Table) IsHome(b *Bucket) bool { return b == t.home() }

// Size returns the total number of live contacts across all buckets.
func (t *Table) Size() int {
	n := 0
	for _, b := range t.buckets {
		n += b.Len()
	}
	return n
}

// FindNearNodes implements §4.E find_near_nodes: walk buckets in list
// order, and once the bucket containing target is reached, accumulate its
// contacts and those of subsequent buckets until at least 8 are gathered;
// return the closest 8 found.
func (t *Table) FindNearNodes(target krpc.NodeID) []*Contact {
	startIdx := -1
	for i, b := range t.buckets {
		if t.bucketOwnsForFind(b, target) {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		startIdx = 0
	}

	var gathered []*Contact
	for i := startIdx; i < len(t.buckets) && len(gathered) < K; i++ {
		gathered = append(gathered, t.buckets[i].All()...)
	}

	ids := make([]krpc.NodeID, len(gathered))
	byID := make(map[krpc.NodeID]*Contact, len(gathered))
	for i, c := range gathered {
		ids[i] = c.ID
		byID[c.ID] = c
	}
	SortByDistance(target, ids)

	if len(ids) > K {
		ids = ids[:K]
	}
	out := make([]*Contact, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

func (t *Table) bucketOwnsForFind(b *Bucket, target krpc.NodeID) bool {
	p := PrefixLen(t.selfID, target)
	if t.IsHome(b) {
		return p >= b.Index
	}
	return p == b.Index
}

// BucketsNeedingRefresh returns every bucket stale for more than 15
// minutes, per §4.E's update_all maintenance.
func (t *Table) BucketsNeedingRefresh(now time.Time) []*Bucket {
	var out []*Bucket
	for _, b := range t.buckets {
		if b.NeedsRefresh(now) {
			out = append(out, b)
		}
	}
	return out
}

// RandomIDInBucket returns a random node id guaranteed to fall within b's
// range, for use as a refresh-probe target.
func (t *Table) RandomIDInBucket(b *Bucket) (krpc.NodeID, error) {
	var id krpc.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	// Force the shared prefix to match self-id for Index bits.
	for pos := 0; pos < b.Index; pos++ {
		setBit(&id, pos, Bit(t.selfID, pos))
	}
	if !t.IsHome(b) {
		// This is a frozen "far" bucket: bit at Index must differ from
		// self-id to land inside its exact-match range.
		setBit(&id, b.Index, 1-Bit(t.selfID, b.Index))
	}
	return id, nil
}

func setBit(id *krpc.NodeID, position, value int) {
	byteIdx := position / 8
	mask := byte(0x80 >> uint(position%8))
	if value != 0 {
		id[byteIdx] |= mask
	} else {
		id[byteIdx] &^= mask
	}
}

// CheckInvariants verifies the partition invariants §3 requires: ranges
// cover [0, 2^160) with no gaps or overlaps, and only the home bucket has
// power == 160 - index. Intended for tests and defensive assertions, not
// the hot path.
func (t *Table) CheckInvariants() error {
	home := t.home()
	seen := make(map[int]bool)
	for _, b := range t.buckets {
		if b == home {
			continue
		}
		if seen[b.Index] {
			return fmt.Errorf("routing: duplicate non-home bucket index %d", b.Index)
		}
		seen[b.Index] = true
		if b.Power != krpc.IDLen*8-b.Index-1 {
			return fmt.Errorf("routing: non-home bucket %d has power %d, want %d", b.Index, b.Power, krpc.IDLen*8-b.Index-1)
		}
	}
	for i := 0; i < home.Index; i++ {
		if !seen[i] {
			return fmt.Errorf("routing: gap at prefix length %d", i)
		}
	}
	if home.Power != krpc.IDLen*8-home.Index {
		return fmt.Errorf("routing: home bucket power %d, want %d", home.Power, krpc.IDLen*8-home.Index)
	}
	return nil
}
