package triple

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store holds every triple plus four lookup indices. Keeping the indices
// consistent with each mutation is the component's core correctness burden:
// a stale index entry after a delete is a functional bug, because
// FindByEntity is the only way higher layers discover a triple.
//
// Persistence is a line-oriented log of full triple snapshots; the last line
// per id wins on reload, and a snapshot with no sources reads as a delete.
// Mutations update the indices first and roll them back if the log append
// fails, so the table and the indices can never disagree.
type Store struct {
	mu      sync.Mutex
	triples map[string]*Triple

	bySubject   map[string]map[string]bool
	byPredicate map[string]map[string]bool
	byObject    map[string]map[string]bool
	byMemory    map[string]map[string]bool

	logFile *os.File // nil when running memory-only
}

// Open loads the triple log at path. An empty path opens a memory-only store.
func Open(path string) (*Store, error) {
	s := &Store{
		triples:     make(map[string]*Triple),
		bySubject:   make(map[string]map[string]bool),
		byPredicate: make(map[string]map[string]bool),
		byObject:    make(map[string]map[string]bool),
		byMemory:    make(map[string]map[string]bool),
	}
	if path == "" {
		return s, nil
	}

	if err := s.load(path); err != nil {
		return nil, err
	}
	if err := s.compact(path); err != nil {
		return nil, err
	}

	log.Printf("[TRIPLE] Store ready: %d triples (%s)", len(s.triples), path)
	return s, nil
}

// Add records that sourceID supports the fact (subject, predicate, object).
// On an existing triple the source is appended to provenance (a no-op with
// isNewProvenance=false when already present) and metadata merges by
// overwrite-per-key. Returns the triple id.
func (s *Store) Add(subject, predicate, object, sourceID string, metadata map[string]string) (string, bool, error) {
	id := ID(subject, predicate, object)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.triples[id]; ok {
		isNew := !existing.HasSource(sourceID)
		if !isNew && len(metadata) == 0 {
			return id, false, nil
		}

		updated := existing.clone()
		if isNew {
			updated.SourceMemoryIDs = append(updated.SourceMemoryIDs, sourceID)
		}
		for k, v := range metadata {
			if updated.Metadata == nil {
				updated.Metadata = make(map[string]string)
			}
			updated.Metadata[k] = v
		}
		updated.UpdatedAt = time.Now()

		if isNew {
			s.indexMemory(sourceID, id)
		}
		if err := s.appendSnapshot(updated); err != nil {
			if isNew {
				s.unindexMemory(sourceID, id)
			}
			return "", false, fmt.Errorf("persist triple: %w", err)
		}
		s.triples[id] = updated
		if isNew {
			log.Printf("[TRIPLE] New support %s <- %s", updated, sourceID)
		}
		return id, isNew, nil
	}

	now := time.Now()
	t := &Triple{
		ID:              id,
		Subject:         subject,
		Predicate:       predicate,
		Object:          object,
		SourceMemoryIDs: []string{sourceID},
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.indexTriple(t)
	if err := s.appendSnapshot(t); err != nil {
		s.unindexTriple(t)
		return "", false, fmt.Errorf("persist triple: %w", err)
	}
	s.triples[id] = t
	log.Printf("[TRIPLE] Added %s <- %s", t, sourceID)
	return id, true, nil
}

// RemoveSource drops memoryID from every triple's provenance. Triples whose
// provenance becomes empty are deleted in the same call; their ids are
// returned. Calling RemoveSource twice is the same as calling it once.
func (s *Store) RemoveSource(memoryID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byMemory[memoryID]
	if len(ids) == 0 {
		return nil, nil
	}

	var deleted []string
	for id := range ids {
		t, ok := s.triples[id]
		if !ok {
			continue
		}
		updated := t.clone()
		kept := updated.SourceMemoryIDs[:0]
		for _, src := range updated.SourceMemoryIDs {
			if src != memoryID {
				kept = append(kept, src)
			}
		}
		updated.SourceMemoryIDs = kept
		updated.UpdatedAt = time.Now()

		if len(updated.SourceMemoryIDs) == 0 {
			s.unindexTriple(t)
			if err := s.appendSnapshot(updated); err != nil {
				s.indexTriple(t)
				return deleted, fmt.Errorf("persist triple delete: %w", err)
			}
			delete(s.triples, id)
			deleted = append(deleted, id)
			log.Printf("[TRIPLE] Deleted unsupported %s", t)
		} else {
			s.unindexMemory(memoryID, id)
			if err := s.appendSnapshot(updated); err != nil {
				s.indexMemory(memoryID, id)
				return deleted, fmt.Errorf("persist triple: %w", err)
			}
			s.triples[id] = updated
		}
	}
	delete(s.byMemory, memoryID)
	return deleted, nil
}

// FindByEntity returns every triple whose subject or object equals entity.
func (s *Store) FindByEntity(entity string) []*Triple {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []*Triple
	for _, idx := range []map[string]map[string]bool{s.bySubject, s.byObject} {
		for id := range idx[entity] {
			if seen[id] {
				continue
			}
			if t, ok := s.triples[id]; ok {
				out = append(out, t.clone())
				seen[id] = true
			}
		}
	}
	sortTriples(out)
	return out
}

// FindBySubject returns triples with the given subject.
func (s *Store) FindBySubject(subject string) []*Triple {
	return s.findIn(func() map[string]bool { return s.bySubject[subject] })
}

// FindByPredicate returns triples with the given predicate.
func (s *Store) FindByPredicate(predicate string) []*Triple {
	return s.findIn(func() map[string]bool { return s.byPredicate[predicate] })
}

// FindByMemory returns triples supported by the given record.
func (s *Store) FindByMemory(memoryID string) []*Triple {
	return s.findIn(func() map[string]bool { return s.byMemory[memoryID] })
}

func (s *Store) findIn(ids func() map[string]bool) []*Triple {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Triple
	for id := range ids() {
		if t, ok := s.triples[id]; ok {
			out = append(out, t.clone())
		}
	}
	sortTriples(out)
	return out
}

// Search returns triples matching any of the entities (as subject or object),
// optionally filtered to the given predicates.
func (s *Store) Search(entities []string, predicates []string) []*Triple {
	allowed := make(map[string]bool, len(predicates))
	for _, p := range predicates {
		allowed[p] = true
	}

	seen := make(map[string]bool)
	var out []*Triple
	for _, entity := range entities {
		for _, t := range s.FindByEntity(entity) {
			if seen[t.ID] {
				continue
			}
			if len(allowed) > 0 && !allowed[t.Predicate] {
				continue
			}
			out = append(out, t)
			seen[t.ID] = true
		}
	}
	sortTriples(out)
	return out
}

// Entities returns every distinct subject and object.
func (s *Store) Entities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, idx := range []map[string]map[string]bool{s.bySubject, s.byObject} {
		for entity, ids := range idx {
			if !seen[entity] && len(ids) > 0 {
				out = append(out, entity)
				seen[entity] = true
			}
		}
	}
	sort.Strings(out)
	return out
}

// Predicates returns every distinct predicate.
func (s *Store) Predicates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for p, ids := range s.byPredicate {
		if len(ids) > 0 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of live triples.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triples)
}

// Close closes the backing log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return nil
	}
	return s.logFile.Close()
}

func (s *Store) indexTriple(t *Triple) {
	addIndex(s.bySubject, t.Subject, t.ID)
	addIndex(s.byPredicate, t.Predicate, t.ID)
	addIndex(s.byObject, t.Object, t.ID)
	for _, mid := range t.SourceMemoryIDs {
		addIndex(s.byMemory, mid, t.ID)
	}
}

func (s *Store) unindexTriple(t *Triple) {
	dropIndex(s.bySubject, t.Subject, t.ID)
	dropIndex(s.byPredicate, t.Predicate, t.ID)
	dropIndex(s.byObject, t.Object, t.ID)
	for _, mid := range t.SourceMemoryIDs {
		dropIndex(s.byMemory, mid, t.ID)
	}
}

func (s *Store) indexMemory(memoryID, tripleID string) {
	addIndex(s.byMemory, memoryID, tripleID)
}

func (s *Store) unindexMemory(memoryID, tripleID string) {
	dropIndex(s.byMemory, memoryID, tripleID)
}

func addIndex(idx map[string]map[string]bool, key, id string) {
	if idx[key] == nil {
		idx[key] = make(map[string]bool)
	}
	idx[key][id] = true
}

func dropIndex(idx map[string]map[string]bool, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

func (s *Store) appendSnapshot(t *Triple) error {
	if s.logFile == nil {
		return nil
	}
	line, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal triple: %w", err)
	}
	if _, err := s.logFile.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.logFile.Sync()
}

func (s *Store) load(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open triple log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Triple
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("corrupt triple line: %w", err)
		}
		if prev, ok := s.triples[t.ID]; ok {
			s.unindexTriple(prev)
			delete(s.triples, t.ID)
		}
		if len(t.SourceMemoryIDs) == 0 {
			continue // tombstone
		}
		s.triples[t.ID] = &t
		s.indexTriple(&t)
	}
	return scanner.Err()
}

// compact rewrites the log to one snapshot per live triple and reopens it for
// appending.
func (s *Store) compact(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ordered := make([]*Triple, 0, len(s.triples))
	for _, t := range s.triples {
		ordered = append(ordered, t)
	}
	sortTriples(ordered)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, t := range ordered {
		line, err := json.Marshal(t)
		if err != nil {
			f.Close()
			return fmt.Errorf("marshal triple %s: %w", t.ID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	s.logFile, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	return err
}
