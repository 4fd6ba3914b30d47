// Package triple implements the durable store of subject-predicate-object
// facts with provenance tracking.
//
// A triple's identity is a deterministic hash of (subject, predicate,
// object): identical extractions always collide to the same id, which is how
// dedup works without a lookup table. A triple exists exactly as long as its
// provenance list is non-empty; removing the last supporting record deletes
// the triple in the same call.
package triple

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Triple is a subject-predicate-object fact supported by one or more memory
// records. Metadata is display/weighting detail (negation, frequency,
// condition, confidence) and never drives identity.
type Triple struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`

	// SourceMemoryIDs lists the records supporting this fact, in the order
	// the support arrived. Never empty while the triple exists.
	SourceMemoryIDs []string `json:"source_memory_ids"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ID derives the deterministic triple id for (subject, predicate, object).
func ID(subject, predicate, object string) string {
	sum := sha256.Sum256([]byte(subject + "|" + predicate + "|" + object))
	return hex.EncodeToString(sum[:])[:12]
}

// SupportCount returns the number of records backing this triple.
func (t *Triple) SupportCount() int {
	return len(t.SourceMemoryIDs)
}

// HasSource reports whether memoryID already supports this triple.
func (t *Triple) HasSource(memoryID string) bool {
	for _, id := range t.SourceMemoryIDs {
		if id == memoryID {
			return true
		}
	}
	return false
}

// String renders the fact for prompt injection, folding the negation and
// frequency qualifiers back into the phrase.
func (t *Triple) String() string {
	neg := ""
	if t.Metadata["negation"] == "true" {
		neg = "不"
	}
	return fmt.Sprintf("(%s %s%s%s %s)", t.Subject, neg, t.Metadata["frequency"], t.Predicate, t.Object)
}

func (t *Triple) clone() *Triple {
	dup := *t
	dup.SourceMemoryIDs = append([]string(nil), t.SourceMemoryIDs...)
	if t.Metadata != nil {
		dup.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

// sortTriples gives every find/search result a deterministic order: oldest
// first, id as tiebreak.
func sortTriples(ts []*Triple) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
