package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kioku-ai/kioku/core"
)

// The record log is line-oriented JSON: one full snapshot per put, one
// tombstone per delete. The last line for an id wins on reload. Every append
// is fsynced before the mutation returns, which is the store's durability
// guarantee.

type walEntry struct {
	Op     string       `json:"op"` // "put" or "del"
	ID     string       `json:"id,omitempty"`
	Record *core.Record `json:"record,omitempty"`
}

type walFile struct {
	f *os.File
}

func openWAL(path string) (*walFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &walFile{f: f}, nil
}

func (w *walFile) appendPut(rec *core.Record) error {
	return w.append(walEntry{Op: "put", Record: rec})
}

func (w *walFile) appendDelete(id string) error {
	return w.append(walEntry{Op: "del", ID: id})
}

func (w *walFile) append(e walEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *walFile) close() error {
	return w.f.Close()
}

// loadWAL replays the log and returns the live records in first-insertion
// order.
func loadWAL(path string) ([]*core.Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byID := make(map[string]*core.Record)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e walEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("corrupt log line: %w", err)
		}
		switch e.Op {
		case "put":
			if e.Record == nil {
				return nil, fmt.Errorf("put entry without record")
			}
			if _, seen := byID[e.Record.ID]; !seen {
				order = append(order, e.Record.ID)
			}
			byID[e.Record.ID] = e.Record
		case "del":
			delete(byID, e.ID)
		default:
			return nil, fmt.Errorf("unknown log op %q", e.Op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]*core.Record, 0, len(byID))
	for _, id := range order {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// rewriteWAL replaces the log with one snapshot per live record and returns
// an open append handle. Written to a temp file and renamed so a crash
// mid-compaction leaves the old log intact.
func rewriteWAL(path string, records []*core.Record) (*walFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(walEntry{Op: "put", Record: rec})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}

	return openWAL(path)
}
