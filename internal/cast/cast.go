// Package cast type-asserts the untyped values a decoded bencode
// dictionary yields (string, int64, []any, map[string]any) into the
// concrete shapes KRPC argument/result fields need, returning a
// descriptive error instead of panicking on a shape mismatch.
package cast

import "fmt"

// ToString accepts either a string or a []byte, since bencode byte
// strings decode as Go strings but some callers hand in raw bytes.
func ToString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("cast: %T is not a string", v)
	}
}

// ToInt accepts any of bencode's decoded integer shapes.
func ToInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("cast: %T is not an integer", v)
	}
}
