package bencode

import (
	"reflect"
	"strings"
	"testing"
)

func TestMarshal_ConcreteScenario(t *testing.T) {
	v := Dict{
		"a": int64(1),
		"b": List{int64(2), "xx"},
	}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := "d1:ai1e1:bli2e2:xxee"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMarshal_NegativeInteger(t *testing.T) {
	got, err := Marshal(int64(-42))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(got) != "i-42e" {
		t.Fatalf("got %q, want i-42e", got)
	}

	v, err := Unmarshal(got)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if v != int64(-42) {
		t.Fatalf("got %v, want -42", v)
	}
}

func TestMarshal_UnsupportedType(t *testing.T) {
	_, err := Marshal(3.14)
	var typeErr *EncodeTypeError
	if err == nil {
		t.Fatal("expected EncodeTypeError, got nil")
	}
	if !errorsAs(err, &typeErr) {
		t.Fatalf("got %v, want *EncodeTypeError", err)
	}
}

func errorsAs(err error, target **EncodeTypeError) bool {
	e, ok := err.(*EncodeTypeError)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestRoundTrip(t *testing.T) {
	tests := []any{
		"hello",
		int64(0),
		int64(-1),
		List{int64(1), "two", List{int64(3)}},
		Dict{
			"announce": "http://tracker",
			"info": Dict{
				"length": int64(1024),
				"name":   "file.iso",
				"pieces": List{"abc", "def"},
			},
		},
	}
	for _, tc := range tests {
		enc, err := Marshal(tc)
		if err != nil {
			t.Fatalf("Marshal(%#v) error: %v", tc, err)
		}
		dec, err := Unmarshal(enc)
		if err != nil {
			t.Fatalf("Unmarshal(%q) error: %v", enc, err)
		}
		if !reflect.DeepEqual(dec, tc) {
			t.Fatalf("round trip mismatch: got %#v, want %#v", dec, tc)
		}
	}
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	_, err := Unmarshal([]byte("i1ei2e"))
	var trailing *TrailingBytes
	if !errorsAsTrailing(err, &trailing) {
		t.Fatalf("got %v, want *TrailingBytes", err)
	}
}

func errorsAsTrailing(err error, target **TrailingBytes) bool {
	e, ok := err.(*TrailingBytes)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestDecode_NegativeZeroRejected(t *testing.T) {
	_, err := Unmarshal([]byte("i-0e"))
	if err == nil {
		t.Fatal("expected error decoding i-0e, got nil")
	}
	if !strings.Contains(err.Error(), "negative zero") {
		t.Fatalf("got %v, want mention of negative zero", err)
	}
}

func TestDecode_LeadingZeroRejected(t *testing.T) {
	_, err := Unmarshal([]byte("i012e"))
	if err == nil {
		t.Fatal("expected error decoding i012e, got nil")
	}
	if !strings.Contains(err.Error(), "leading zero") {
		t.Fatalf("got %v, want mention of leading zero", err)
	}
}

func TestDecodeValue_PositionalContract(t *testing.T) {
	data := []byte("i42e4:spam")
	v, pos, err := DecodeValue(data, 0)
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	if v != int64(42) || pos != 4 {
		t.Fatalf("got (%v, %d), want (42, 4)", v, pos)
	}

	v2, pos2, err := DecodeValue(data, pos)
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	if v2 != "spam" || pos2 != len(data) {
		t.Fatalf("got (%v, %d), want (spam, %d)", v2, pos2, len(data))
	}
}

func TestDecode_TruncatedContainers(t *testing.T) {
	for _, in := range []string{"l", "d", "i1"} {
		if _, err := Unmarshal([]byte(in)); err == nil {
			t.Fatalf("expected error decoding %q, got nil", in)
		}
	}
}

func TestDecode_DictKeyMustBeString(t *testing.T) {
	_, err := Unmarshal([]byte("di1ei2ee"))
	if err == nil {
		t.Fatal("expected error for non-string dict key, got nil")
	}
}
