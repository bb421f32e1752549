// Package bencode implements the bencoding serialization format used to
// frame every KRPC message on the wire: integers, byte strings, lists, and
// dictionaries.
package bencode

import "fmt"

// Token identifies syntactic markers in the bencode stream.
type Token byte

func (t Token) Byte() byte { return byte(t) }

const (
	// TokenDict begins a dictionary: 'd'
	TokenDict Token = 'd'
	// TokenInteger begins an integer: 'i'
	TokenInteger Token = 'i'
	// TokenEnding terminates a list, dictionary, or integer: 'e'
	TokenEnding Token = 'e'
	// TokenList begins a list: 'l'
	TokenList Token = 'l'
	// TokenStringSeparator separates a string length from its data: ':'
	TokenStringSeparator Token = ':'
)

// EncodeTypeError is returned by Encode when v's type has no bencode
// representation.
type EncodeTypeError struct {
	Type any
}

func (e *EncodeTypeError) Error() string {
	return fmt.Sprintf("bencode: unsupported datatype %T", e.Type)
}

// Malformed reports a structural decoding error at a given byte offset.
type Malformed struct {
	Offset int
	Reason string
}

func (e *Malformed) Error() string {
	return fmt.Sprintf("bencode: malformed input at offset %d: %s", e.Offset, e.Reason)
}

// TrailingBytes is returned when Unmarshal consumes fewer bytes than were
// supplied.
type TrailingBytes struct {
	Consumed, Len int
}

func (e *TrailingBytes) Error() string {
	return fmt.Sprintf("bencode: trailing bytes after value (%d consumed of %d)", e.Consumed, e.Len)
}

// Dict is the decoded representation of a bencoded dictionary. Keys are byte
// strings; they are never silently UTF-8 decoded or otherwise normalized.
type Dict = map[string]any

// List is the decoded representation of a bencoded list.
type List = []any
