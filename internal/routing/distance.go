// Package routing implements the split-on-demand k-bucket routing table and
// the XOR distance metric over 160-bit node ids.
package routing

import (
	"bytes"
	"sort"

	"github.com/prxssh/dhtnode/internal/krpc"
)

// Distance returns the XOR distance between two node ids as a big-endian
// 160-bit unsigned integer, represented byte-wise.
func Distance(a, b krpc.NodeID) [krpc.IDLen]byte {
	var d [krpc.IDLen]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether a is strictly closer to target than b is.
func Less(target, a, b krpc.NodeID) bool {
	da, db := Distance(target, a), Distance(target, b)
	return bytes.Compare(da[:], db[:]) < 0
}

// PrefixLen counts the number of leading bits shared by a and b, from 0
// (differ in the very first bit) to 160 (identical).
func PrefixLen(a, b krpc.NodeID) int {
	for i := 0; i < krpc.IDLen; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			continue
		}
		// Count leading zero bits within this differing byte.
		for bit := 0; bit < 8; bit++ {
			if x&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return krpc.IDLen * 8
}

// Bit returns the value (0 or 1) of the bit at the given position (0 =
// most significant bit of the first byte).
func Bit(id krpc.NodeID, position int) int {
	byteIdx := position / 8
	bitIdx := uint(position % 8)
	return int((id[byteIdx] >> (7 - bitIdx)) & 1)
}

// SortByDistance sorts ids in place by ascending XOR distance to target; the
// sort is stable, so callers relying on insertion order for ties keep it.
func SortByDistance(target krpc.NodeID, ids []krpc.NodeID) {
	sort.SliceStable(ids, func(i, j int) bool {
		return Less(target, ids[i], ids[j])
	})
}
