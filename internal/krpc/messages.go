package krpc

import (
	"fmt"
	"net"

	"github.com/prxssh/dhtnode/internal/bencode"
	"github.com/prxssh/dhtnode/internal/cast"
)

// MessageClass is the KRPC "y" field: query, response, or error.
type MessageClass string

const (
	ClassQuery    MessageClass = "q"
	ClassResponse MessageClass = "r"
	ClassError    MessageClass = "e"
)

// Method names the KRPC "q" field.
type Method string

const (
	MethodPing         Method = "ping"
	MethodFindNode     Method = "find_node"
	MethodGetPeers     Method = "get_peers"
	MethodAnnouncePeer Method = "announce_peer"
)

// Error codes per BEP-5 §4.B.
const (
	ErrGeneric       = 201
	ErrServer        = 202
	ErrProtocol      = 203
	ErrMethodUnknown = 204
)

// Envelope is a decoded KRPC message: the bencoded dictionary's top-level
// fields, plus the sender address it arrived from (zero for outbound
// messages that haven't been sent yet).
type Envelope struct {
	TxID   string
	Class  MessageClass
	Method Method         // set only for queries
	Args   bencode.Dict   // "a", for queries
	Result bencode.Dict   // "r", for responses
	ErrMsg []any          // "e", a 2-element [code, message] list
	From   *net.UDPAddr
}

// IsQuery, IsResponse, IsError classify a decoded envelope.
func (e *Envelope) IsQuery() bool    { return e.Class == ClassQuery }
func (e *Envelope) IsResponse() bool { return e.Class == ClassResponse }
func (e *Envelope) IsError() bool    { return e.Class == ClassError }

// ErrorCode and ErrorMessage extract the two elements of an "e" envelope,
// defensively, since the payload is attacker-controlled.
func (e *Envelope) ErrorCode() int {
	if len(e.ErrMsg) < 1 {
		return 0
	}
	switch v := e.ErrMsg[0].(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (e *Envelope) ErrorMessage() string {
	if len(e.ErrMsg) < 2 {
		return ""
	}
	if s, ok := e.ErrMsg[1].(string); ok {
		return s
	}
	return ""
}

// Marshal renders the envelope back to its bencoded wire dictionary.
func (e *Envelope) Marshal() ([]byte, error) {
	d := bencode.Dict{"t": e.TxID, "y": string(e.Class)}
	switch e.Class {
	case ClassQuery:
		d["q"] = string(e.Method)
		d["a"] = e.Args
	case ClassResponse:
		d["r"] = e.Result
	case ClassError:
		d["e"] = e.ErrMsg
	}
	return bencode.Marshal(d)
}

// ParseEnvelope decodes a raw datagram into an Envelope, annotating it with
// the sender address. Bencode decoding errors are returned unchanged
// (*bencode.Malformed or *bencode.TrailingBytes). A well-formed bencoded
// value whose shape doesn't match a KRPC envelope is reported with a plain
// error, not a *bencode.Malformed.
func ParseEnvelope(data []byte, from *net.UDPAddr) (*Envelope, error) {
	v, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	top, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("krpc: top-level value is not a dictionary")
	}
	t, ok := top["t"].(string)
	if !ok {
		return nil, fmt.Errorf("krpc: missing or invalid transaction id")
	}
	y, ok := top["y"].(string)
	if !ok {
		return nil, fmt.Errorf("krpc: missing or invalid message class")
	}

	env := &Envelope{TxID: t, Class: MessageClass(y), From: from}
	switch env.Class {
	case ClassQuery:
		q, ok := top["q"].(string)
		if !ok {
			return nil, fmt.Errorf("krpc: query message missing method name")
		}
		env.Method = Method(q)
		args, ok := top["a"].(bencode.Dict)
		if !ok {
			return nil, fmt.Errorf("krpc: query message missing arguments")
		}
		env.Args = args
	case ClassResponse:
		r, ok := top["r"].(bencode.Dict)
		if !ok {
			return nil, fmt.Errorf("krpc: response message missing result")
		}
		env.Result = r
	case ClassError:
		el, ok := top["e"].(bencode.List)
		if !ok {
			return nil, fmt.Errorf("krpc: error message missing error list")
		}
		env.ErrMsg = el
	default:
		return nil, fmt.Errorf("krpc: unknown message class %q", y)
	}
	return env, nil
}

// dictString pulls a required string field out of a decoded args/result
// dict, surfacing a descriptive error instead of a panic on shape mismatch.
func dictString(d bencode.Dict, key string) (string, error) {
	v, ok := d[key]
	if !ok {
		return "", fmt.Errorf("krpc: missing field %q", key)
	}
	return cast.ToString(v)
}

func dictID(d bencode.Dict, key string) (NodeID, error) {
	s, err := dictString(d, key)
	if err != nil {
		return NodeID{}, err
	}
	return NodeIDFromBytes([]byte(s))
}
