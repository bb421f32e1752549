package krpc

import (
	"net"
	"testing"
)

func testID(b byte) NodeID {
	var id NodeID
	id[len(id)-1] = b
	return id
}

func TestBuilder_SequentialTransactionIDs(t *testing.T) {
	b := NewBuilder(testID(1))

	first := b.Ping()
	second := b.Ping()

	if first.TxID != string([]byte{0, 0, 0, 1}) {
		t.Fatalf("first txid = %q, want \\x00\\x00\\x00\\x01", first.TxID)
	}
	if second.TxID != string([]byte{0, 0, 0, 2}) {
		t.Fatalf("second txid = %q, want \\x00\\x00\\x00\\x02", second.TxID)
	}
}

func TestBuilder_PingRoundTrip(t *testing.T) {
	b := NewBuilder(testID(7))
	q := b.Ping()

	raw, err := q.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	env, err := ParseEnvelope(raw, nil)
	if err != nil {
		t.Fatalf("ParseEnvelope error: %v", err)
	}
	if !env.IsQuery() || env.Method != MethodPing {
		t.Fatalf("got class=%v method=%v, want query/ping", env.Class, env.Method)
	}
}

func TestBuilder_FindNodeResponseCompactNodes(t *testing.T) {
	b := NewBuilder(testID(1))
	node, err := CompactNode(testID(9), net.IPv4(10, 0, 0, 1), 6881)
	if err != nil {
		t.Fatalf("CompactNode error: %v", err)
	}

	resp := b.FindNodeResponse(string([]byte{0, 0, 0, 1}), node)
	raw, err := resp.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	env, err := ParseEnvelope(raw, nil)
	if err != nil {
		t.Fatalf("ParseEnvelope error: %v", err)
	}
	if !env.IsResponse() {
		t.Fatalf("got class=%v, want response", env.Class)
	}
	nodesField, ok := env.Result["nodes"].(string)
	if !ok || len(nodesField) != CompactNodeLen {
		t.Fatalf("got nodes field %v, want %d-byte compact node", env.Result["nodes"], CompactNodeLen)
	}

	decoded, err := DecodeCompactNodes([]byte(nodesField))
	if err != nil {
		t.Fatalf("DecodeCompactNodes error: %v", err)
	}
	if len(decoded) != 1 || decoded[0].ID != testID(9) {
		t.Fatalf("got %+v, want one node with id %v", decoded, testID(9))
	}
}

func TestParseEnvelope_ErrorMessage(t *testing.T) {
	b := NewBuilder(testID(1))
	e := b.Error(string([]byte{0, 0, 0, 5}), ErrMethodUnknown, ErrorDescription(ErrMethodUnknown))

	raw, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	env, err := ParseEnvelope(raw, nil)
	if err != nil {
		t.Fatalf("ParseEnvelope error: %v", err)
	}
	if !env.IsError() || env.ErrorCode() != ErrMethodUnknown {
		t.Fatalf("got code=%d, want %d", env.ErrorCode(), ErrMethodUnknown)
	}
}

func TestParseEnvelope_RejectsMissingFields(t *testing.T) {
	if _, err := ParseEnvelope([]byte("d1:ti1e1:y1:qe"), nil); err == nil {
		t.Fatal("expected error for query missing q/a fields, got nil")
	}
}
