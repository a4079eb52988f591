// Package canon implements the canonical JSON serialization and hashing
// discipline that the event chain depends on: object keys are sorted
// byte-lexicographically and recursed into, arrays keep their order, and
// every other value type is passed through untouched. In particular numbers
// are re-emitted exactly as they were spelled on the wire — this is NOT full
// RFC 8785 JSON Canonicalization Scheme, which additionally reformats
// numeric literals. See DESIGN.md for why that distinction matters here.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/duskwatch/evidence/internal/assert"
)

// Marshal canonicalizes v (any JSON-shaped Go value — typically the result
// of decoding with a json.Decoder configured via UseNumber, or a plain
// map[string]interface{}/[]interface{}/primitive tree) and returns the
// compact canonical JSON bytes.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses raw JSON bytes into a canonicalizable tree, preserving the
// original spelling of numbers via json.Number instead of collapsing them
// to float64.
func Decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	return v, nil
}

// Hash returns the lowercase hex SHA-256 digest of the canonical JSON
// encoding of v.
func Hash(v interface{}) (string, error) {
	if err := assert.NotNil(v, "value"); err != nil {
		return "", err
	}
	out, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(out)
	return hex.EncodeToString(sum[:]), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]interface{}:
		return encodeObject(buf, val)
	case []interface{}:
		return encodeArray(buf, val)
	case json.Number:
		buf.WriteString(string(val))
		return nil
	case string:
		return encodeString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case float64:
		// Only reached for float64 values constructed in-process (e.g. float
		// literals, or a tree decoded without UseNumber) rather than decoded
		// with Decode; encoding/json's own formatter is used so the output
		// stays valid JSON, at the cost of Go's default float formatting.
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case int, int32, int64, uint, uint32, uint64:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	default:
		// Fall back to the standard encoder then re-decode with UseNumber so
		// structs and other Go values still canonicalize deterministically.
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("marshaling %T: %w", val, err)
		}
		normalized, err := Decode(b)
		if err != nil {
			return err
		}
		return encode(buf, normalized)
	}
}

func encodeObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, el := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, el); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
