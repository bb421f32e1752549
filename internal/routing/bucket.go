package routing

import (
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
)

// K is the nominal bucket capacity; the home bucket gets 4*K instead.
const K = 8

// HomeCapacity is the expanded capacity of the bucket whose range contains
// self-id, reflecting that most real-world traffic lands near the local id.
const HomeCapacity = 4 * K

// replacementCacheCap bounds the replacement cache that backfills a full
// bucket once its live entries start dying off.
const replacementCacheCap = 16

// minSplittablePower is the practical floor below which the table refuses
// to split further (an 8-entry range).
const minSplittablePower = 3

// Bucket holds up to its capacity of live contacts, insertion-ordered with
// least-recently-seen at the front, plus a bounded replacement cache for
// contacts observed while the bucket was full.
type Bucket struct {
	// Index is the number of leading bits this bucket's range is
	// required to share with self-id: for every bucket but the last
	// (home) one, membership requires an EXACT match of Index bits
	// followed by a divergent bit; for the home bucket, membership
	// requires AT LEAST Index matching bits.
	Index int
	// Power records that this bucket's range spans 2^Power ids.
	Power int

	nodes       []*Contact // insertion-ordered, LRU at index 0
	cache       []*Contact // insertion-ordered, LRU at index 0
	lastChanged time.Time
}

// NewRootBucket returns the single bucket covering the entire id space,
// used to seed a fresh routing table.
func NewRootBucket(now time.Time) *Bucket {
	return &Bucket{Index: 0, Power: krpc.IDLen * 8, lastChanged: now}
}

// Len returns the number of live contacts (excluding the replacement cache).
func (b *Bucket) Len() int { return len(b.nodes) }

// Capacity returns this bucket's contact capacity; isHome must reflect
// whether this is currently the table's home bucket.
func (b *Bucket) Capacity(isHome bool) int {
	if isHome {
		return HomeCapacity
	}
	return K
}

// IsFull reports whether the bucket has reached its capacity.
func (b *Bucket) IsFull(isHome bool) bool {
	return len(b.nodes) >= b.Capacity(isHome)
}

// CanFork reports whether this bucket is eligible to split: it must be the
// home bucket and not yet at the practical depth floor.
func (b *Bucket) CanFork(isHome bool) bool {
	return isHome && b.Power > minSplittablePower
}

// Get returns the contact with the given id, if present among live nodes.
func (b *Bucket) Get(id krpc.NodeID) (*Contact, bool) {
	for _, c := range b.nodes {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// All returns a snapshot copy of the bucket's live contacts, LRU first.
func (b *Bucket) All() []*Contact {
	out := make([]*Contact, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// Insert applies the §4.E insertion rule for a contact whose range this
// bucket owns: refresh-and-move-to-MRU if already present; otherwise append
// if there's room; otherwise fall back to the bounded replacement cache.
func (b *Bucket) Insert(c *Contact, isHome bool, now time.Time) {
	for i, existing := range b.nodes {
		if existing.ID == c.ID {
			existing.Touch(now)
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.nodes = append(b.nodes, existing)
			b.lastChanged = now
			return
		}
	}

	if !b.IsFull(isHome) {
		b.nodes = append(b.nodes, c)
		b.lastChanged = now
		return
	}

	b.insertCache(c, now)
}

func (b *Bucket) insertCache(c *Contact, now time.Time) {
	for i, existing := range b.cache {
		if existing.ID == c.ID {
			existing.Touch(now)
			b.cache = append(b.cache[:i], b.cache[i+1:]...)
			b.cache = append(b.cache, existing)
			return
		}
	}
	b.cache = append(b.cache, c)
	if len(b.cache) > replacementCacheCap {
		b.cache = b.cache[len(b.cache)-replacementCacheCap:]
	}
}

// Remove deletes a contact from the live set; if the replacement cache has
// an entry waiting, its most-recently-seen member is promoted.
func (b *Bucket) Remove(id krpc.NodeID) {
	for i, c := range b.nodes {
		if c.ID == id {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			if len(b.cache) > 0 {
				promoted := b.cache[len(b.cache)-1]
				b.cache = b.cache[:len(b.cache)-1]
				b.nodes = append(b.nodes, promoted)
			}
			return
		}
	}
}

// NeedsRefresh reports whether the bucket has gone stale: no contact added
// to or refreshed in its live set within the last 15 minutes.
func (b *Bucket) NeedsRefresh(now time.Time) bool {
	return now.Sub(b.lastChanged) > 15*time.Minute
}

// CacheLen reports the replacement cache's current size (exported for
// invariant testing: it must never exceed 16).
func (b *Bucket) CacheLen() int { return len(b.cache) }

// split implements §4.E's split algorithm on a full, forkable home bucket.
// selfBit is the self-id bit at this bucket's Index position. It returns
// the left (non-home, far) and right (home, near) children; the
// replacement cache is discarded, per spec.
func (b *Bucket) split(selfID krpc.NodeID, now time.Time) (left, right *Bucket) {
	selfBit := Bit(selfID, b.Index)

	left = &Bucket{Index: b.Index, Power: b.Power - 1, lastChanged: now}
	right = &Bucket{Index: b.Index + 1, Power: b.Power - 1, lastChanged: now}

	for _, c := range b.nodes {
		bit := Bit(c.ID, b.Index)
		if bit == selfBit {
			right.nodes = append(right.nodes, c)
		} else {
			left.nodes = append(left.nodes, c)
		}
	}
	return left, right
}
