package routing

import (
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
)

// Snapshot serializes every live contact in the table as a concatenation of
// 26-byte compact node entries, per §6's optional persistence hook. Bucket
// boundaries and the replacement cache are not preserved: reloading rebuilds
// the partition from scratch via ordinary Insert calls.
func (t *Table) Snapshot() []byte {
	out := make([]byte, 0, t.Size()*krpc.CompactNodeLen)
	for _, b := range t.buckets {
		for _, c := range b.All() {
			enc, err := c.Compact()
			if err != nil {
				continue
			}
			out = append(out, enc...)
		}
	}
	return out
}

// LoadSnapshot decodes a Snapshot's output and inserts every contact into
// the table via the ordinary Insert path, so splitting and capacity rules
// apply exactly as they would to contacts learned over the wire. It returns
// the number of entries decoded and passed to Insert; an entry equal to
// self-id, or one that lands in a replacement cache, is counted as well.
func (t *Table) LoadSnapshot(data []byte) int {
	nodes, err := krpc.DecodeCompactNodes(data)
	if err != nil {
		return 0
	}
	now := time.Now()
	n := 0
	for _, node := range nodes {
		t.Insert(node.ID, node.IP, node.Port, now)
		n++
	}
	return n
}
