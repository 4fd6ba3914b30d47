// Package record implements the durable store of memory records. It owns the
// only mutable copy of each record; every higher component reads and writes
// through it.
//
// Storage is split in two: an append log on disk holding full record
// snapshots (last snapshot per id wins on reload), and a chromem-go
// collection serving nearest-neighbor search over the embeddings. The
// collection is rebuilt from the log on open, so the log is the single source
// of truth.
package record

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/google/uuid"
	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/embedding"
)

// Meta carries the caller-supplied fields of a new record. Zero values fall
// back to category "fact", importance 1.0.
type Meta struct {
	Category   core.Category
	Importance float64
	Verified   bool
	Source     string
	Extra      map[string]string
}

// Match pairs a record with its distance to a query. Distance is 1 minus
// cosine similarity, ascending from 0 (identical) to 2 (opposite).
type Match struct {
	Record   *core.Record
	Distance float64
}

// Similarity maps a search distance onto [0,1]. This mapping is the single
// convention used everywhere a similarity is derived from a distance.
func Similarity(distance float64) float64 {
	s := 1 - distance/2
	if s < 0 {
		return 0
	}
	return s
}

// Store is the record table plus its vector index. All methods are safe for
// concurrent use; a single mutex serializes writers.
type Store struct {
	mu       sync.Mutex
	embedder embedding.Embedder

	records map[string]*core.Record
	seq     map[string]int // insertion order, for stable distance ties
	nextSeq int

	index *chromem.Collection
	wal   *walFile // nil when running memory-only

	onDelete []func(id string)
}

// Open loads the record table at path and rebuilds the vector index. An empty
// path opens a memory-only store (used by tests).
func Open(path string, embedder embedding.Embedder) (*Store, error) {
	col, err := chromem.NewDB().CreateCollection("records", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create index collection: %w", err)
	}

	s := &Store{
		embedder: embedder,
		records:  make(map[string]*core.Record),
		seq:      make(map[string]int),
		index:    col,
	}

	if path == "" {
		return s, nil
	}

	loaded, err := loadWAL(path)
	if err != nil {
		return nil, fmt.Errorf("load record log: %w", err)
	}
	for _, rec := range loaded {
		if err := s.indexRecord(context.Background(), rec); err != nil {
			return nil, fmt.Errorf("rebuild index for %s: %w", rec.ID, err)
		}
		s.records[rec.ID] = rec
		s.seq[rec.ID] = s.nextSeq
		s.nextSeq++
	}

	// Compact on open so the log stays one live snapshot per record.
	wal, err := rewriteWAL(path, loaded)
	if err != nil {
		return nil, fmt.Errorf("compact record log: %w", err)
	}
	s.wal = wal

	log.Printf("[RECORD] Store ready: %d records (%s)", len(s.records), path)
	return s, nil
}

// OnDelete registers an observer called after a record is removed. The triple
// store subscribes here to cascade provenance removal, so no call site has to
// remember the ordering itself.
func (s *Store) OnDelete(fn func(id string)) {
	s.mu.Lock()
	s.onDelete = append(s.onDelete, fn)
	s.mu.Unlock()
}

// Add embeds text and persists a new record, returning its id. An embedding
// failure rejects the write: a record without a vector may not exist.
func (s *Store) Add(ctx context.Context, text string, meta Meta) (string, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}

	now := time.Now()
	rec := &core.Record{
		ID:         uuid.New().String(),
		Text:       text,
		Vector:     vec,
		Category:   meta.Category,
		Importance: meta.Importance,
		Verified:   meta.Verified,
		Source:     meta.Source,
		Extra:      meta.Extra,
		Timestamp:  now,
		LastAccess: now,
	}
	if rec.Category == "" {
		rec.Category = core.CategoryFact
	}
	if !rec.Category.Valid() {
		return "", fmt.Errorf("unknown category %q", rec.Category)
	}
	if rec.Importance == 0 {
		rec.Importance = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(ctx, rec, true); err != nil {
		return "", err
	}
	log.Printf("[RECORD] Added %s (%s): %s", rec.ID, rec.Category, truncate(text, 40))
	return rec.ID, nil
}

// AddBatch inserts several records in order, returning their ids. Each item
// is embedded and persisted individually; the first failure aborts the rest.
func (s *Store) AddBatch(ctx context.Context, texts []string, meta Meta) ([]string, error) {
	ids := make([]string, 0, len(texts))
	for _, text := range texts {
		id, err := s.Add(ctx, text, meta)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateText replaces a record's text and recomputes its embedding, keeping
// every other field. Returns false when the id is unknown.
func (s *Store) UpdateText(ctx context.Context, id, text string) (bool, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, nil
	}
	updated := rec.Clone()
	updated.Text = text
	updated.Vector = vec

	if err := s.put(ctx, updated, false); err != nil {
		return false, err
	}
	log.Printf("[RECORD] Updated text %s: %s", id, truncate(text, 40))
	return true, nil
}

// Update applies mutate to a copy of the record and persists the result as a
// whole-record write (last writer wins). Text and vector changes are ignored;
// use UpdateText for those so the embedding invariant cannot drift.
func (s *Store) Update(ctx context.Context, id string, mutate func(*core.Record)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, nil
	}
	updated := rec.Clone()
	mutate(updated)
	updated.ID = rec.ID
	updated.Text = rec.Text
	updated.Vector = rec.Vector

	if err := s.put(ctx, updated, false); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a record. Deleting an unknown id returns false, not an
// error. Observers run after the removal is durable.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	_, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}

	if err := s.index.Delete(context.Background(), nil, nil, id); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("drop from index: %w", err)
	}
	delete(s.records, id)
	delete(s.seq, id)

	if s.wal != nil {
		if err := s.wal.appendDelete(id); err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("persist delete: %w", err)
		}
	}
	observers := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	log.Printf("[RECORD] Deleted %s", id)
	for _, fn := range observers {
		fn(id)
	}
	return true, nil
}

// Get returns a copy of the record, or ok=false when missing.
func (s *Store) Get(id string) (*core.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// All returns copies of every record in insertion order.
func (s *Store) All() []*core.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*core.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out
}

// Count returns the number of live records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Search embeds the query and returns the k nearest records in ascending
// distance order. Ties are broken by insertion order. An empty store returns
// no matches and no error.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Match, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}
	return s.SearchVector(ctx, vec, k)
}

// SearchVector is Search for callers that already hold an embedding.
func (s *Store) SearchVector(ctx context.Context, vec []float32, k int) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k > len(s.records) {
		k = len(s.records)
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := s.index.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		rec, ok := s.records[res.ID]
		if !ok {
			// Stale index entries are a programming error; skip defensively.
			log.Printf("[RECORD] Index returned unknown id %s", res.ID)
			continue
		}
		matches = append(matches, Match{
			Record:   rec.Clone(),
			Distance: float64(1 - res.Similarity),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return s.seq[matches[i].Record.ID] < s.seq[matches[j].Record.ID]
	})
	return matches, nil
}

// Close flushes and closes the backing log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return nil
	}
	return s.wal.close()
}

// put updates index then log, rolling the index back if persistence fails so
// the two can never disagree.
func (s *Store) put(ctx context.Context, rec *core.Record, isNew bool) error {
	prev := s.records[rec.ID]

	if !isNew {
		if err := s.index.Delete(ctx, nil, nil, rec.ID); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
	}
	if err := s.indexRecord(ctx, rec); err != nil {
		return fmt.Errorf("index record: %w", err)
	}

	if s.wal != nil {
		if err := s.wal.appendPut(rec); err != nil {
			// Roll the index change back; the caller sees a clean failure.
			_ = s.index.Delete(ctx, nil, nil, rec.ID)
			if prev != nil {
				_ = s.indexRecord(ctx, prev)
			}
			return fmt.Errorf("persist record: %w", err)
		}
	}

	s.records[rec.ID] = rec
	if isNew {
		s.seq[rec.ID] = s.nextSeq
		s.nextSeq++
	}
	return nil
}

func (s *Store) indexRecord(ctx context.Context, rec *core.Record) error {
	return s.index.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Vector,
		Metadata:  map[string]string{"category": string(rec.Category)},
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
