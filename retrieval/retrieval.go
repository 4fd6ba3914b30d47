// Package retrieval combines vector similarity with graph evidence from the
// triple store into a single ranked result list. Core and system records
// bypass scoring entirely: they are always present.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/extract"
	"github.com/kioku-ai/kioku/record"
	"github.com/kioku-ai/kioku/triple"
)

const (
	vectorWeight = 0.4
	graphWeight  = 0.6

	// overlapBonus rewards records corroborated by both channels.
	overlapBonus = 0.3

	// tripleSupport is the graph score added per supporting triple;
	// graphOnlyScore is the graph score for records reached only through
	// triple provenance.
	tripleSupport  = 0.3
	graphOnlyScore = 0.5

	// pinnedScore places core and system records above anything the
	// weighted blend can produce.
	pinnedScore = 10.0
)

// Result is one scored retrieval hit. Triples carries the graph evidence
// that contributed to GraphScore, for digest rendering.
type Result struct {
	Record      *core.Record
	VectorScore float64
	GraphScore  float64
	Score       float64
	Triples     []*triple.Triple
}

// Retriever runs hybrid search over the two stores.
type Retriever struct {
	records *record.Store
	triples *triple.Store
}

// New builds a retriever over the given stores.
func New(records *record.Store, triples *triple.Store) *Retriever {
	return &Retriever{records: records, triples: triples}
}

// Search returns the topK best hits for the query. With includeCore set,
// core and system records are always included at a fixed pinned score;
// everything else is ranked by a weighted blend of vector similarity and
// graph support, with a bonus when both channels agree.
//
// Retrieval degrades rather than fails: a broken vector channel costs the
// similarity-ranked hits but never the pinned records or the graph channel.
func (r *Retriever) Search(ctx context.Context, query string, topK int, includeCore bool) []*Result {
	if topK <= 0 {
		topK = 5
	}

	results := make(map[string]*Result)

	// Permanent records first, outside scoring.
	pinned := 0
	if includeCore {
		for _, rec := range r.records.All() {
			if !rec.Category.Permanent() {
				continue
			}
			results[rec.ID] = &Result{
				Record:      rec,
				VectorScore: 1.0,
				GraphScore:  1.0,
				Score:       pinnedScore,
			}
			pinned++
		}
	}

	// Vector channel: over-fetch so graph evidence can reorder.
	matches, err := r.records.Search(ctx, query, 2*topK)
	if err != nil {
		log.Printf("[RETRIEVAL] Vector search failed, serving pinned and graph results only: %v", err)
	}
	for _, m := range matches {
		if _, ok := results[m.Record.ID]; ok {
			continue
		}
		results[m.Record.ID] = &Result{
			Record:      m.Record,
			VectorScore: record.Similarity(m.Distance),
		}
	}

	// Graph channel: entities in the query pull in supporting triples, and
	// each triple's provenance votes for its source records.
	entities := extract.Entities(query, r.triples.Entities())
	seenTriples := make(map[string]bool)
	for _, entity := range entities {
		for _, t := range r.triples.FindByEntity(entity) {
			if seenTriples[t.ID] {
				continue
			}
			seenTriples[t.ID] = true
			for _, memID := range t.SourceMemoryIDs {
				res, ok := results[memID]
				if !ok {
					rec, exists := r.records.Get(memID)
					if !exists {
						continue
					}
					res = &Result{Record: rec, GraphScore: graphOnlyScore}
					results[memID] = res
					res.Triples = append(res.Triples, t)
					continue
				}
				if res.Score == pinnedScore {
					res.Triples = append(res.Triples, t)
					continue
				}
				res.GraphScore += tripleSupport
				res.Triples = append(res.Triples, t)
			}
		}
	}

	// Blend, skipping the pinned entries.
	ranked := make([]*Result, 0, len(results))
	for _, res := range results {
		if res.Score != pinnedScore {
			res.Score = res.VectorScore*vectorWeight + res.GraphScore*graphWeight
			if res.VectorScore > 0 && res.GraphScore > 0 {
				res.Score += overlapBonus
			}
		}
		ranked = append(ranked, res)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Record.Timestamp.After(ranked[j].Record.Timestamp)
	})

	limit := topK + pinned
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Digest renders results as a compact context block for prompt injection.
// Each entry shows the record text with at most two supporting triples.
func Digest(results []*Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, res.Record.Category, res.Record.Text)
		for j, t := range res.Triples {
			if j >= 2 {
				break
			}
			b.WriteString("\n   - ")
			b.WriteString(t.String())
		}
		if i < len(results)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Recent returns the n most recently created non-permanent records, newest
// first. Used by the conversational digest.
func (r *Retriever) Recent(n int) []*core.Record {
	recs := r.records.All()
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
	out := make([]*core.Record, 0, n)
	for _, rec := range recs {
		if rec.Category.Permanent() {
			continue
		}
		out = append(out, rec)
		if len(out) == n {
			break
		}
	}
	return out
}

// Important returns the n highest-importance records, permanent categories
// included, ties broken by recency.
func (r *Retriever) Important(n int) []*core.Record {
	recs := r.records.All()
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Importance != recs[j].Importance {
			return recs[i].Importance > recs[j].Importance
		}
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
	if len(recs) > n {
		recs = recs[:n]
	}
	return recs
}
