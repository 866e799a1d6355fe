// Package jsonutil produces deterministic JSON and content fingerprints.
//
// Canonical output has sorted object keys, no insignificant whitespace, no
// HTML escaping, and numbers copied through as written. Two values that
// marshal to the same JSON document always fingerprint the same, whatever
// their Go types.
package jsonutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// FingerprintPrefix tags every fingerprint with its digest.
const FingerprintPrefix = "sha256:"

// CanonicalMarshal encodes v as canonical JSON.
func CanonicalMarshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}

	c := canonicalizer{}
	if err := c.write(tree); err != nil {
		return nil, err
	}
	return c.buf.Bytes(), nil
}

// Fingerprint returns FingerprintPrefix followed by the hex SHA-256 of the
// canonical JSON of v.
func Fingerprint(v any) (string, error) {
	data, err := CanonicalMarshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return FingerprintPrefix + hex.EncodeToString(sum[:]), nil
}

// SameFingerprint reports whether v fingerprints to want.
func SameFingerprint(v any, want string) (bool, error) {
	got, err := Fingerprint(v)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, want), nil
}

type canonicalizer struct {
	buf bytes.Buffer
}

func (c *canonicalizer) write(v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		c.buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				c.buf.WriteByte(',')
			}
			if err := c.scalar(k); err != nil {
				return err
			}
			c.buf.WriteByte(':')
			if err := c.write(val[k]); err != nil {
				return err
			}
		}
		c.buf.WriteByte('}')
		return nil

	case []any:
		c.buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				c.buf.WriteByte(',')
			}
			if err := c.write(item); err != nil {
				return err
			}
		}
		c.buf.WriteByte(']')
		return nil

	case json.Number:
		c.buf.WriteString(val.String())
		return nil

	default:
		return c.scalar(val)
	}
}

// scalar writes a string, bool or null without HTML escaping.
func (c *canonicalizer) scalar(v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	c.buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
