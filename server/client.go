package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kioku-ai/kioku/core"
)

// Client is the Go-side counterpart of the WebSocket service. Calls are
// serialized on one connection; the server answers in order.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	next int
}

// Dial connects to a running service, e.g. "ws://localhost:8700/ws".
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *Client) call(req Request, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	req.ID = strconv.Itoa(c.next)
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s: %w", req.Action, err)
	}

	var resp struct {
		ID    string          `json:"id"`
		OK    bool            `json:"ok"`
		Error string          `json:"error"`
		Data  json.RawMessage `json:"data"`
	}
	if err := c.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("receive %s: %w", req.Action, err)
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s", req.Action, resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", req.Action, err)
		}
	}
	return nil
}

// Add stores text and returns the memory id (existing id on a dedup merge).
func (c *Client) Add(text, category string, importance float64) (string, error) {
	var out struct {
		MemoryID string `json:"memory_id"`
	}
	err := c.call(Request{Action: "add", Text: text, Category: category, Importance: importance}, &out)
	return out.MemoryID, err
}

// AddBatch stores several texts.
func (c *Client) AddBatch(texts []string) ([]string, error) {
	var out struct {
		MemoryIDs []string `json:"memory_ids"`
	}
	err := c.call(Request{Action: "add_batch", Texts: texts}, &out)
	return out.MemoryIDs, err
}

// Get fetches one record by id.
func (c *Client) Get(memoryID string) (*core.Record, error) {
	var rec core.Record
	if err := c.call(Request{Action: "get", MemoryID: memoryID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record; permanent records are refused server-side.
func (c *Client) Delete(memoryID string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	err := c.call(Request{Action: "delete", MemoryID: memoryID}, &out)
	return out.Deleted, err
}

// Boost applies the cooldown-guarded importance boost.
func (c *Client) Boost(memoryID string) (bool, error) {
	var out struct {
		Boosted bool `json:"boosted"`
	}
	err := c.call(Request{Action: "boost", MemoryID: memoryID}, &out)
	return out.Boosted, err
}

// Search runs pure vector search.
func (c *Client) Search(query string, topK int) ([]SearchHit, error) {
	var hits []SearchHit
	err := c.call(Request{Action: "search", Text: query, TopK: topK}, &hits)
	return hits, err
}

// HybridSearch runs the blended vector+graph search. includeCore controls
// whether core and system records are pinned into the results.
func (c *Client) HybridSearch(query string, topK int, includeCore bool) ([]SearchHit, error) {
	var hits []SearchHit
	err := c.call(Request{
		Action:      "hybrid_search",
		Text:        query,
		TopK:        topK,
		IncludeCore: &includeCore,
	}, &hits)
	return hits, err
}

// Analyze queues a finished exchange for background curation. The returned
// bool reports whether the curator accepted it.
func (c *Client) Analyze(userMsg, assistantMsg string) (bool, error) {
	var out struct {
		Queued bool `json:"queued"`
	}
	err := c.call(Request{Action: "analyze", User: userMsg, Assistant: assistantMsg}, &out)
	return out.Queued, err
}

// Stats fetches engine counters.
func (c *Client) Stats() (*Stats, error) {
	var st Stats
	if err := c.call(Request{Action: "stats"}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
