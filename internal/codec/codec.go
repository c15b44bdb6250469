// Package codec renders raw attribute payloads for inspection.
//
// All functions are pure: they take bytes and return strings, holding no
// state. The session layer calls them when building value log entries; the
// CLI calls them when printing.
package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// HexGroups renders data as lowercase hex byte pairs separated by single
// spaces ("7b 22 61 22"). Returns "" for empty input.
func HexGroups(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	const hexdigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(data)*3 - 1)
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(hexdigits[v>>4])
		b.WriteByte(hexdigits[v&0x0f])
	}
	return b.String()
}

// ParseHexGroups is the inverse of HexGroups: it accepts hex with optional
// whitespace separators and returns the original bytes.
func ParseHexGroups(s string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' {
			return -1
		}
		return r
	}, s)
	out, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input %q: %w", s, err)
	}
	return out, nil
}

// CanonicalJSON returns a compact canonical rendering of data when it is
// valid UTF-8 encoding a JSON document, and ok=false otherwise. The
// canonical form uses no insignificant whitespace, sorted object keys, and
// only ASCII characters, so re-parsing it yields a document equal to the
// original.
func CanonicalJSON(data []byte) (string, bool) {
	if !utf8.Valid(data) {
		return "", false
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	// Reject trailing garbage after the first document.
	if dec.More() {
		return "", false
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return escapeNonASCII(strings.TrimSuffix(buf.String(), "\n")), true
}

// escapeNonASCII rewrites runes above 0x7F as \uXXXX escapes, with a
// surrogate pair for runes outside the basic multilingual plane. The encoder
// has already escaped quotes and control characters, so the remaining
// non-ASCII runes all sit inside string literals where a \u escape is legal.
func escapeNonASCII(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	return b.String()
}

// PrettyJSON is the multi-line flavor of CanonicalJSON, used by the
// presentation boundary for the latest-value rendering.
func PrettyJSON(data []byte, indent int) (string, bool) {
	compact, ok := CanonicalJSON(data)
	if !ok {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(compact), "", strings.Repeat(" ", indent)); err != nil {
		return "", false
	}
	return buf.String(), true
}
