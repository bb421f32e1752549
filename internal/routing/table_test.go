package routing

import (
	"net"
	"testing"
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
)

func idWithLastByte(b byte) krpc.NodeID {
	var id krpc.NodeID
	id[len(id)-1] = b
	return id
}

// Concrete scenario from spec §8.4: self-id 0x2202...00, inserting 9
// contacts with ids 0x00...0i (i = 1..9) causes exactly one split; the home
// bucket (right child) covers the range whose top bit equals bit 0 of
// self-id.
func TestTable_SplitOnNinthInsertion(t *testing.T) {
	var self krpc.NodeID
	self[0] = 0x22 // 0010_0010: bit 0 is 0

	now := time.Unix(0, 0)
	table := New(self, now)

	for i := byte(1); i <= 9; i++ {
		table.Insert(idWithLastByte(i), net.IPv4(127, 0, 0, 1), 6881+int(i), now)
	}

	if len(table.Buckets()) != 2 {
		t.Fatalf("got %d buckets, want 2 after one split", len(table.Buckets()))
	}

	home := table.Buckets()[len(table.Buckets())-1]
	if home.Index != 1 {
		t.Fatalf("home bucket index = %d, want 1", home.Index)
	}
	// Bit 0 of self-id (0x22 = 0010_0010) is 0; ids 0x00...0i all start
	// with a zero byte, so every id shares bit 0 with self and all 9
	// land in the (still-forming) home bucket's range before the split,
	// and after splitting, all of them remain in the new home (right
	// child), since their bit-0 matches self's bit-0.
	if home.Len()+len(home.cache) == 0 {
		t.Fatal("home bucket lost contacts across the split")
	}

	if err := table.CheckInvariants(); err != nil {
		t.Fatalf("invariant check failed: %v", err)
	}
}

func TestTable_HomeCapacityIsFourK(t *testing.T) {
	var self krpc.NodeID
	now := time.Unix(0, 0)
	table := New(self, now)

	home := table.Buckets()[0]
	if home.Capacity(true) != HomeCapacity {
		t.Fatalf("home capacity = %d, want %d", home.Capacity(true), HomeCapacity)
	}
	if home.Capacity(false) != K {
		t.Fatalf("non-home capacity fallback = %d, want %d", home.Capacity(false), K)
	}
}

func TestTable_ReplacementCacheBounded(t *testing.T) {
	var self krpc.NodeID
	self[0] = 0xFF // forces every all-zero-prefix id away from self
	now := time.Unix(0, 0)
	table := New(self, now)

	// Insert far more ids than fit, all sharing prefix length 0 with self.
	// The first HomeCapacity fill the root bucket; the next insert splits
	// it, and every id lands in the far (left) child, which is already
	// over its K capacity, so the rest overflow into its replacement cache.
	for i := 0; i < HomeCapacity+40; i++ {
		var id krpc.NodeID
		id[len(id)-1] = byte(i)
		id[len(id)-2] = byte(i >> 8)
		table.Insert(id, net.IPv4(127, 0, 0, 1), 6000+i, now)
	}
	for _, b := range table.Buckets() {
		if b.CacheLen() > 16 {
			t.Fatalf("replacement cache has %d entries, want <= 16", b.CacheLen())
		}
	}
}

func TestTable_FindNearNodesCappedAtEight(t *testing.T) {
	var self krpc.NodeID
	now := time.Unix(0, 0)
	table := New(self, now)

	for i := 0; i < 20; i++ {
		var id krpc.NodeID
		id[len(id)-1] = byte(i + 1)
		table.Insert(id, net.IPv4(127, 0, 0, 1), 6000+i, now)
	}

	var target krpc.NodeID
	target[len(target)-1] = 5
	near := table.FindNearNodes(target)
	if len(near) > K {
		t.Fatalf("got %d near nodes, want at most %d", len(near), K)
	}
}

func TestTable_InsertExistingRefreshesWithoutMutatingEndpoint(t *testing.T) {
	var self krpc.NodeID
	now := time.Unix(1000, 0)
	table := New(self, now)

	id := idWithLastByte(1)
	table.Insert(id, net.IPv4(127, 0, 0, 1), 6881, now)

	later := now.Add(time.Minute)
	table.Insert(id, net.IPv4(127, 0, 0, 2), 6882, later)

	c, ok := table.Get(id)
	if !ok {
		t.Fatal("contact not found after refresh")
	}
	if !c.LastSeen.Equal(later) {
		t.Fatalf("last seen = %v, want %v", c.LastSeen, later)
	}
	if c.Port != 6881 || !c.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("endpoint = %s:%d, want unchanged 127.0.0.1:6881", c.IP, c.Port)
	}
}

func TestContact_StateThresholds(t *testing.T) {
	now := time.Unix(10000, 0)
	c := NewContact(idWithLastByte(1), net.IPv4(127, 0, 0, 1), 6881, now)

	if s := c.StateAt(now.Add(10 * time.Minute)); s != Active {
		t.Fatalf("state at +10m = %v, want active", s)
	}
	if s := c.StateAt(now.Add(17 * time.Minute)); s != Inactive {
		t.Fatalf("state at +17m = %v, want inactive", s)
	}
	if s := c.StateAt(now.Add(21 * time.Minute)); s != Dead {
		t.Fatalf("state at +21m = %v, want dead", s)
	}
}

func TestDistance_Properties(t *testing.T) {
	a := idWithLastByte(1)
	b := idWithLastByte(2)

	da := Distance(a, a)
	for _, x := range da {
		if x != 0 {
			t.Fatal("distance(a, a) != 0")
		}
	}

	dab := Distance(a, b)
	dba := Distance(b, a)
	if dab != dba {
		t.Fatal("distance is not symmetric")
	}
}

func TestSortByDistance_StableAndMonotone(t *testing.T) {
	target := idWithLastByte(0)
	ids := []krpc.NodeID{idWithLastByte(5), idWithLastByte(1), idWithLastByte(3)}
	SortByDistance(target, ids)

	for i := 1; i < len(ids); i++ {
		if Less(target, ids[i], ids[i-1]) {
			t.Fatalf("ids not sorted by ascending distance: %v", ids)
		}
	}
}
