package krpc

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"github.com/prxssh/dhtnode/internal/bencode"
)

// Builder holds the process-wide self-id and monotone transaction counter
// used to construct outgoing KRPC queries, responses, and errors. Its
// self-id and counter are initialized once at startup and never reassigned;
// the counter itself is safe for concurrent use, though this node only ever
// calls it from its single event loop.
type Builder struct {
	selfID NodeID
	nextTx uint32
}

// NewBuilder returns a Builder bound to id, with its transaction counter
// starting at zero so the first issued id is 1.
func NewBuilder(id NodeID) *Builder {
	return &Builder{selfID: id}
}

// SelfID returns the builder's bound node id.
func (b *Builder) SelfID() NodeID { return b.selfID }

// nextTxID increments the counter modulo 2^32 and renders it as a 4-byte
// big-endian transaction id.
func (b *Builder) nextTxID() string {
	n := atomic.AddUint32(&b.nextTx, 1)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	return string(buf[:])
}

// NewToken returns 10 cryptographically random bytes suitable for a
// get_peers response token.
func NewToken() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Ping builds a ping query envelope.
func (b *Builder) Ping() *Envelope {
	return &Envelope{
		TxID:   b.nextTxID(),
		Class:  ClassQuery,
		Method: MethodPing,
		Args:   bencode.Dict{"id": string(b.selfID[:])},
	}
}

// PingResponse builds the response to an inbound ping, echoing its txid.
func (b *Builder) PingResponse(txID string) *Envelope {
	return &Envelope{
		TxID:   txID,
		Class:  ClassResponse,
		Result: bencode.Dict{"id": string(b.selfID[:])},
	}
}

// FindNode builds a find_node query for target.
func (b *Builder) FindNode(target NodeID) *Envelope {
	return &Envelope{
		TxID:   b.nextTxID(),
		Class:  ClassQuery,
		Method: MethodFindNode,
		Args: bencode.Dict{
			"id":     string(b.selfID[:]),
			"target": string(target[:]),
		},
	}
}

// FindNodeResponse builds a find_node response carrying the concatenation
// of compact node entries.
func (b *Builder) FindNodeResponse(txID string, compactNodes []byte) *Envelope {
	return &Envelope{
		TxID:  txID,
		Class: ClassResponse,
		Result: bencode.Dict{
			"id":    string(b.selfID[:]),
			"nodes": string(compactNodes),
		},
	}
}

// GetPeers builds a get_peers query for infoHash.
func (b *Builder) GetPeers(infoHash NodeID) *Envelope {
	return &Envelope{
		TxID:   b.nextTxID(),
		Class:  ClassQuery,
		Method: MethodGetPeers,
		Args: bencode.Dict{
			"id":        string(b.selfID[:]),
			"info_hash": string(infoHash[:]),
		},
	}
}

// GetPeersResponseValues builds a get_peers response carrying a list of
// compact peer endpoints (the "values" branch).
func (b *Builder) GetPeersResponseValues(txID string, token string, values []string) *Envelope {
	vals := make(bencode.List, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return &Envelope{
		TxID:  txID,
		Class: ClassResponse,
		Result: bencode.Dict{
			"id":     string(b.selfID[:]),
			"token":  token,
			"values": vals,
		},
	}
}

// GetPeersResponseNodes builds a get_peers response carrying the closest
// known nodes instead (the "nodes" branch, used when no peers are stored).
func (b *Builder) GetPeersResponseNodes(txID string, token string, compactNodes []byte) *Envelope {
	return &Envelope{
		TxID:  txID,
		Class: ClassResponse,
		Result: bencode.Dict{
			"id":    string(b.selfID[:]),
			"token": token,
			"nodes": string(compactNodes),
		},
	}
}

// AnnouncePeer builds a structural announce_peer query. Used only to
// exercise the query surface; this node never needs to send one itself, but
// the builder stays symmetric with the response/error side for testing and
// for other nodes' query handlers to construct against.
func (b *Builder) AnnouncePeer(infoHash NodeID, port int, token string) *Envelope {
	return &Envelope{
		TxID:   b.nextTxID(),
		Class:  ClassQuery,
		Method: MethodAnnouncePeer,
		Args: bencode.Dict{
			"id":        string(b.selfID[:]),
			"info_hash": string(infoHash[:]),
			"port":      int64(port),
			"token":     token,
		},
	}
}

// AnnouncePeerResponse acknowledges an announce_peer query.
func (b *Builder) AnnouncePeerResponse(txID string) *Envelope {
	return &Envelope{
		TxID:   txID,
		Class:  ClassResponse,
		Result: bencode.Dict{"id": string(b.selfID[:])},
	}
}

// Error builds an error envelope with the given code and message.
func (b *Builder) Error(txID string, code int, message string) *Envelope {
	return &Envelope{
		TxID:   txID,
		Class:  ClassError,
		ErrMsg: []any{int64(code), message},
	}
}

var errorDescriptions = map[int]string{
	ErrGeneric:       "Generic Error",
	ErrServer:        "Server Error",
	ErrProtocol:      "Protocol Error",
	ErrMethodUnknown: "Method Unknown",
}

// ErrorDescription returns the canonical BEP-5 description for a KRPC error
// code, or "" if code is not one of the four defined codes.
func ErrorDescription(code int) string {
	return errorDescriptions[code]
}
