// Package krpc implements the KRPC message layer: typed query, response, and
// error envelopes bound to a process-wide self-id and transaction counter,
// plus the compact binary encodings used on the wire.
package krpc

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IDLen is the width of a NodeId in bytes (160 bits).
const IDLen = 20

// NodeID is a fixed 20-byte opaque identifier. Equality and hashing are
// byte-identity.
type NodeID [IDLen]byte

func (id NodeID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// Bytes returns id as a byte slice.
func (id NodeID) Bytes() []byte { return id[:] }

// NodeIDFromBytes copies b into a NodeID, requiring exactly IDLen bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != IDLen {
		return id, fmt.Errorf("krpc: node id must be %d bytes, got %d", IDLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// CompactNodeLen is the size in bytes of a compact node entry: 20-byte id
// plus a 6-byte compact address.
const CompactNodeLen = IDLen + 6

// CompactAddr encodes a UDP4 endpoint as 6 bytes: 4-byte IPv4 (network
// order) followed by a 2-byte port (network order).
func CompactAddr(ip net.IP, port int) ([]byte, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("krpc: compact address requires an IPv4 address, got %v", ip)
	}
	out := make([]byte, 6)
	copy(out[:4], ip4)
	binary.BigEndian.PutUint16(out[4:], uint16(port))
	return out, nil
}

// DecodeCompactAddr parses a 6-byte compact address into an IP and port.
func DecodeCompactAddr(b []byte) (net.IP, int, error) {
	if len(b) != 6 {
		return nil, 0, fmt.Errorf("krpc: compact address must be 6 bytes, got %d", len(b))
	}
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	port := int(binary.BigEndian.Uint16(b[4:6]))
	return ip, port, nil
}

// CompactNode encodes a node id and its UDP4 endpoint as the 26-byte compact
// node representation used in find_node/get_peers responses.
func CompactNode(id NodeID, ip net.IP, port int) ([]byte, error) {
	addr, err := CompactAddr(ip, port)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, CompactNodeLen)
	out = append(out, id[:]...)
	out = append(out, addr...)
	return out, nil
}

// DecodedNode is a single parsed compact node entry.
type DecodedNode struct {
	ID   NodeID
	IP   net.IP
	Port int
}

// DecodeCompactNodes parses a concatenation of 26-byte compact node entries.
func DecodeCompactNodes(b []byte) ([]DecodedNode, error) {
	if len(b)%CompactNodeLen != 0 {
		return nil, fmt.Errorf("krpc: compact node list length %d is not a multiple of %d", len(b), CompactNodeLen)
	}
	count := len(b) / CompactNodeLen
	out := make([]DecodedNode, 0, count)
	for i := 0; i < count; i++ {
		chunk := b[i*CompactNodeLen : (i+1)*CompactNodeLen]
		id, err := NodeIDFromBytes(chunk[:IDLen])
		if err != nil {
			return nil, err
		}
		ip, port, err := DecodeCompactAddr(chunk[IDLen:])
		if err != nil {
			return nil, err
		}
		out = append(out, DecodedNode{ID: id, IP: ip, Port: port})
	}
	return out, nil
}
