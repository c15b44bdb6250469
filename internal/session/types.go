package session

import (
	"time"

	"github.com/srg/gattscope/internal/codec"
)

// ValueEntry is one decoded value snapshot. Immutable; appended to a key's
// log ring by read results and notification deliveries, never mutated.
// Seq increases strictly with every append across the whole session, so
// pollers can track progress even when a burst shares one timestamp.
type ValueEntry struct {
	Seq       uint64
	Timestamp time.Time
	Size      int
	Hex       string
	JSON      string
	HasJSON   bool
}

// NewValueEntry decodes a raw payload into its hex rendering and, when the
// payload is valid JSON, a canonical JSON rendering.
func NewValueEntry(raw []byte) ValueEntry {
	js, ok := codec.CanonicalJSON(raw)
	return ValueEntry{
		Timestamp: time.Now(),
		Size:      len(raw),
		Hex:       codec.HexGroups(raw),
		JSON:      js,
		HasJSON:   ok,
	}
}

// WriteResult reports a completed write. Fallback is set when the
// with-response attempt failed and the single without-response retry
// succeeded, so callers can show degraded-mode feedback.
type WriteResult struct {
	Fallback bool
}
