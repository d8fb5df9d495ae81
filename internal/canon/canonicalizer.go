// Package canon provides deterministic canonical-JSON serialization and
// SHA-256 content hashing for governance events.
//
// Canonicalization is external contract: any producer or verifier in any
// language must reproduce the same bytes and the same hash for semantically
// equal events, so the rules here are deliberately narrow and explicit
// rather than delegated to a generic marshaler.
package canon

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrEncode is returned when a value cannot be canonicalized.
var ErrEncode = errors.New("ENCODE_ERROR")

// DefaultExcludedKeys are stripped from the top level of a mapping before
// canonicalization unless the caller overrides them.
var DefaultExcludedKeys = []string{"hash", "signature", "receivedAt"}

// Canonicalize produces a byte sequence that is bit-identical for two
// semantically equal mappings: excluded keys are removed from the top
// level, mapping keys are sorted in ascending byte order at every nesting
// depth, array element order is preserved, and the output is compact JSON
// (no whitespace) with UTF-8 encoding and minimal round-tripping numeric
// literals.
func Canonicalize(m map[string]any, excluded ...string) ([]byte, error) {
	keys := excluded
	if keys == nil {
		keys = DefaultExcludedKeys
	}

	stripped := stripKeys(m, keys)

	var b strings.Builder

	if err := encodeValue(&b, stripped); err != nil {
		return nil, err
	}

	return []byte(b.String()), nil
}

func stripKeys(m map[string]any, excluded []string) map[string]any {
	skip := make(map[string]bool, len(excluded))
	for _, k := range excluded {
		skip[k] = true
	}

	out := make(map[string]any, len(m))

	for k, v := range m {
		if skip[k] {
			continue
		}

		out[k] = v
	}

	return out
}

func encodeValue(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encodeString(b, val)
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		encodeFloat(b, val)
	case map[string]any:
		return encodeObject(b, val)
	case []any:
		return encodeArray(b, val)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrEncode, v)
	}

	return nil
}

func encodeObject(b *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	b.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		encodeString(b, k)
		b.WriteByte(':')

		if err := encodeValue(b, m[k]); err != nil {
			return err
		}
	}

	b.WriteByte('}')

	return nil
}

func encodeArray(b *strings.Builder, arr []any) error {
	b.WriteByte('[')

	for i, v := range arr {
		if i > 0 {
			b.WriteByte(',')
		}

		if err := encodeValue(b, v); err != nil {
			return err
		}
	}

	b.WriteByte(']')

	return nil
}

// encodeString escapes a string per JSON rules, matching encoding/json's
// escaping behavior for control characters, quotes, and backslashes.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')

	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}

	b.WriteByte('"')
}

// encodeFloat emits the smallest canonical decimal form that round-trips:
// integral float64 values are emitted without a fractional part.
func encodeFloat(b *strings.Builder, f float64) {
	if f == float64(int64(f)) {
		b.WriteString(strconv.FormatInt(int64(f), 10))

		return
	}

	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}
