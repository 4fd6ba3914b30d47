// Package core holds the domain types shared by every part of the engine:
// memory records, their categories, and the lifecycle telemetry the
// lifecycle manager reasons about.
package core

import (
	"errors"
	"time"
)

// Category classifies a memory record. The set is closed.
//
// Category transitions are one-way: fact/episode records may be promoted to
// core by a review verdict, and fact/episode records may be deleted. Core and
// system records are permanent; their text may be updated but they are never
// deleted.
type Category string

const (
	// CategorySystem marks operator-installed records. Never deleted.
	CategorySystem Category = "system"

	// CategoryCore marks permanent facts promoted by review. Never deleted.
	CategoryCore Category = "core"

	// CategoryFact is the default category for curator-extracted knowledge.
	CategoryFact Category = "fact"

	// CategoryFeeling records the agent's own reactions and opinions.
	CategoryFeeling Category = "feeling"

	// CategoryEpisode records one-off situational context. Episodes decay
	// fastest and are hard-deleted after a fixed horizon.
	CategoryEpisode Category = "episode"
)

// Permanent reports whether records of this category are exempt from decay
// and deletion.
func (c Category) Permanent() bool {
	return c == CategorySystem || c == CategoryCore
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategoryCore, CategoryFact, CategoryFeeling, CategoryEpisode:
		return true
	}
	return false
}

// ErrEmbedding marks a failed embedding computation. A record without a
// vector violates the store invariant, so writes that hit this error are
// rejected outright rather than persisted partially.
var ErrEmbedding = errors.New("embedding failed")

// Record is a stored unit of knowledge.
//
// The invariant Vector == embed(Text) holds after every successful write:
// both Add and UpdateText recompute the vector before persisting.
//
// The typed fields below are the ones the lifecycle manager mutates. Extra is
// an open bag for free-form qualifiers the curator may attach; nothing in the
// engine branches on it.
type Record struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Vector   []float32 `json:"vector"`
	Category Category  `json:"category"`

	// Importance drives ranking, promotion and forgetting.
	Importance float64 `json:"importance"`

	// Verified is true only for user-confirmed content. Curator-inferred
	// records start false.
	Verified bool `json:"verified"`

	// PromotionRejected is sticky: once a promotion review returns KEEP the
	// record is never re-submitted for promotion.
	PromotionRejected bool `json:"promotion_rejected,omitempty"`

	// Source names who created the record (e.g. "user", "curator").
	Source string `json:"source,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int       `json:"access_count"`

	// Boost bookkeeping for the cooldown and daily-cap rules.
	LastBoost  time.Time `json:"last_boost,omitempty"`
	BoostDay   string    `json:"boost_day,omitempty"`
	DailyBoost float64   `json:"daily_boost,omitempty"`

	// DeleteCooldownUntil suppresses decay review while in the future.
	DeleteCooldownUntil time.Time `json:"delete_cooldown_until,omitempty"`

	// Extra carries free-form qualifiers. May be nil.
	Extra map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate the single owned copy in place.
func (r *Record) Clone() *Record {
	dup := *r
	if r.Vector != nil {
		dup.Vector = make([]float32, len(r.Vector))
		copy(dup.Vector, r.Vector)
	}
	if r.Extra != nil {
		dup.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			dup.Extra[k] = v
		}
	}
	return &dup
}
