// Package server exposes the knowledge engine over a small JSON-over-
// WebSocket protocol. Each request carries a client-chosen id that the
// response echoes, so callers can multiplex over one connection.
package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/curator"
	"github.com/kioku-ai/kioku/lifecycle"
	"github.com/kioku-ai/kioku/record"
	"github.com/kioku-ai/kioku/retrieval"
	"github.com/kioku-ai/kioku/triple"
)

// Request is one protocol message from a client.
type Request struct {
	ID     string `json:"id"`
	Action string `json:"action"`

	Text        string   `json:"text,omitempty"`
	Texts       []string `json:"texts,omitempty"`
	MemoryID    string   `json:"memory_id,omitempty"`
	Category    string   `json:"category,omitempty"`
	Importance  float64  `json:"importance,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	IncludeCore *bool    `json:"include_core,omitempty"`
	User        string   `json:"user,omitempty"`
	Assistant   string   `json:"assistant,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	Predicates  []string `json:"predicates,omitempty"`
}

// Response echoes the request id; exactly one of Data or Error is set.
type Response struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// SearchHit is the wire shape of one hybrid result.
type SearchHit struct {
	Record      *core.Record `json:"record"`
	VectorScore float64      `json:"vector_score"`
	GraphScore  float64      `json:"graph_score"`
	Score       float64      `json:"score"`
	Triples     []string     `json:"triples,omitempty"`
}

// Stats summarizes the engine for the stats action.
type Stats struct {
	Records    int `json:"records"`
	Triples    int `json:"triples"`
	Entities   int `json:"entities"`
	Predicates int `json:"predicates"`
	Pending    int `json:"pending"`
}

// Server serves the protocol over /ws.
type Server struct {
	records   *record.Store
	triples   *triple.Store
	life      *lifecycle.Manager
	retriever *retrieval.Retriever
	curator   *curator.Curator

	topK     int
	upgrader websocket.Upgrader
}

// New builds a server over the assembled engine. topK is the default result
// count when a request omits one.
func New(records *record.Store, triples *triple.Store, life *lifecycle.Manager, retriever *retrieval.Retriever, cur *curator.Curator, topK int) *Server {
	if topK <= 0 {
		topK = 5
	}
	return &Server{
		records:   records,
		triples:   triples,
		life:      life,
		retriever: retriever,
		curator:   cur,
		topK:      topK,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP mux for the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe blocks serving addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("[SERVER] Listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(resp Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("[SERVER] Write failed: %v", err)
		}
	}

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[SERVER] Read failed: %v", err)
			}
			return
		}
		send(s.dispatch(r.Context(), req))
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}

	fail := func(msg string) Response {
		resp.Error = msg
		return resp
	}
	ok := func(data any) Response {
		resp.OK = true
		resp.Data = data
		return resp
	}

	switch req.Action {
	case "add":
		if req.Text == "" {
			return fail("text is required")
		}
		meta := record.Meta{Source: "client"}
		if req.Category != "" {
			meta.Category = core.Category(req.Category)
			if !meta.Category.Valid() {
				return fail("unknown category: " + req.Category)
			}
		}
		meta.Importance = req.Importance
		id, err := s.life.AddWithDedup(ctx, req.Text, meta)
		if err != nil {
			return fail(err.Error())
		}
		return ok(map[string]string{"memory_id": id})

	case "add_batch":
		if len(req.Texts) == 0 {
			return fail("texts is required")
		}
		// Bulk import path: straight inserts, no dedup pass.
		ids, err := s.records.AddBatch(ctx, req.Texts, record.Meta{Source: "client"})
		if err != nil {
			return fail(err.Error())
		}
		return ok(map[string][]string{"memory_ids": ids})

	case "get":
		rec, found := s.records.Get(req.MemoryID)
		if !found {
			return fail("memory not found: " + req.MemoryID)
		}
		return ok(rec)

	case "delete":
		if rec, found := s.records.Get(req.MemoryID); found && rec.Category.Permanent() {
			return fail("refusing to delete " + string(rec.Category) + " memory")
		}
		deleted, err := s.records.Delete(req.MemoryID)
		if err != nil {
			return fail(err.Error())
		}
		return ok(map[string]bool{"deleted": deleted})

	case "boost":
		return ok(map[string]bool{"boosted": s.life.BoostWithCooldown(ctx, req.MemoryID)})

	case "search":
		matches, err := s.records.Search(ctx, req.Text, s.topKFor(req))
		if err != nil {
			return fail(err.Error())
		}
		hits := make([]SearchHit, 0, len(matches))
		for _, m := range matches {
			hits = append(hits, SearchHit{
				Record:      m.Record,
				VectorScore: record.Similarity(m.Distance),
				Score:       record.Similarity(m.Distance),
			})
		}
		return ok(hits)

	case "hybrid_search":
		includeCore := req.IncludeCore == nil || *req.IncludeCore
		results := s.retriever.Search(ctx, req.Text, s.topKFor(req), includeCore)
		hits := make([]SearchHit, 0, len(results))
		for _, res := range results {
			hit := SearchHit{
				Record:      res.Record,
				VectorScore: res.VectorScore,
				GraphScore:  res.GraphScore,
				Score:       res.Score,
			}
			for _, t := range res.Triples {
				hit.Triples = append(hit.Triples, t.String())
			}
			hits = append(hits, hit)
		}
		return ok(hits)

	case "search_triples":
		ts := s.triples.Search(req.Entities, req.Predicates)
		out := make([]*triple.Triple, 0, len(ts))
		out = append(out, ts...)
		return ok(out)

	case "analyze":
		return ok(map[string]bool{"queued": s.curator.AnalyzeConversation(req.User, req.Assistant)})

	case "stats":
		return ok(Stats{
			Records:    s.records.Count(),
			Triples:    s.triples.Count(),
			Entities:   len(s.triples.Entities()),
			Predicates: len(s.triples.Predicates()),
			Pending:    s.curator.Pending(),
		})

	default:
		return fail("unknown action: " + req.Action)
	}
}

func (s *Server) topKFor(req Request) int {
	if req.TopK > 0 {
		return req.TopK
	}
	return s.topK
}
