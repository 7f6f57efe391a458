package engine

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Candidate is a proposed alert produced by a source. It carries everything
// the admission pipeline needs to decide, fingerprint, and deliver it.
type Candidate struct {
	RecipientID string
	Category    string
	Title       string
	Body        string

	// SourceData holds the source-specific identity fields that make two
	// candidates "the same alert" (event id, product URL, schedule id, ...).
	// It feeds the fingerprint, so same content from a different origin is
	// still a distinct alert.
	SourceData map[string]any

	// ScheduleID links reminder candidates back to their schedule row so the
	// cycle can update its status and re-enroll recurrences. Empty for
	// discovery candidates.
	ScheduleID string
}

// Fingerprint is the stable dedup identity of the candidate: fnv64a over
// recipient, category, title, and the source data. json.Marshal sorts map
// keys, so the encoding is deterministic.
func (c Candidate) Fingerprint() string {
	h := fnv.New64a()
	h.Write([]byte(c.RecipientID))
	h.Write([]byte{0})
	h.Write([]byte(c.Category))
	h.Write([]byte{0})
	h.Write([]byte(c.Title))
	h.Write([]byte{0})
	if len(c.SourceData) > 0 {
		b, _ := json.Marshal(c.SourceData)
		h.Write(b)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
