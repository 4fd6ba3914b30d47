// Package curator runs the background maintenance loop: it watches finished
// conversation turns, asks the model which memory operations to apply, and
// executes scheduled lifecycle reviews. All work flows through one bounded
// queue drained by a single goroutine, so store mutations from curation
// never race each other.
package curator

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/extract"
	"github.com/kioku-ai/kioku/lifecycle"
	"github.com/kioku-ai/kioku/llm"
	"github.com/kioku-ai/kioku/record"
	"github.com/kioku-ai/kioku/review"
	"github.com/kioku-ai/kioku/triple"
)

const (
	defaultQueueSize = 64

	// reinforceBoost is the importance delta a [BOOST] operation applies.
	reinforceBoost = 0.3

	maxMessageRunes = 2000
	relatedForOps   = 5
)

var (
	opAdd    = regexp.MustCompile(`^\[ADD\]\[(fact|feeling)\]\s*(.+)$`)
	opUpdate = regexp.MustCompile(`^\[UPDATE:([^\]\s]+)\]\s*(.+)$`)
	opBoost  = regexp.MustCompile(`^\[BOOST:([^\]\s]+)\]`)
	opDelete = regexp.MustCompile(`^\[DELETE:([^\]\s]+)\]`)

	codeFence  = regexp.MustCompile("(?s)```.*?```")
	whitespace = regexp.MustCompile(`\s+`)
)

type task struct {
	// Exactly one of the two shapes is set.
	user, assistant string
	retrieved       []*core.Record
	reviewReq       *review.Request
}

// Curator owns the queue and its consumer goroutine.
type Curator struct {
	gen       llm.Generator
	records   *record.Store
	triples   *triple.Store
	life      *lifecycle.Manager
	reviewer  *review.Reviewer
	extractor *extract.Extractor

	queue chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures the curator.
type Option func(*Curator)

// WithQueueSize bounds the pending-task queue.
func WithQueueSize(n int) Option {
	return func(c *Curator) {
		if n > 0 {
			c.queue = make(chan task, n)
		}
	}
}

// New builds a curator. Start must be called before it processes anything.
func New(gen llm.Generator, records *record.Store, triples *triple.Store, life *lifecycle.Manager, reviewer *review.Reviewer, opts ...Option) *Curator {
	c := &Curator{
		gen:       gen,
		records:   records,
		triples:   triples,
		life:      life,
		reviewer:  reviewer,
		extractor: extract.NewExtractor(gen),
		queue:     make(chan task, defaultQueueSize),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the consumer. ctx cancellation stops the loop after the
// in-flight task finishes, same as Close.
func (c *Curator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Close stops accepting work and waits for the current task to finish.
// Queued tasks that have not started are discarded.
func (c *Curator) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.wg.Wait()
}

// AnalyzeConversation enqueues one finished exchange for curation. The
// records already retrieved for the turn, if any, become the related-memory
// context of the analysis; otherwise the curator searches for its own. It
// never blocks: when the queue is full the exchange is dropped and false
// returned.
func (c *Curator) AnalyzeConversation(userMsg, assistantMsg string, retrieved ...*core.Record) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.queue <- task{user: userMsg, assistant: assistantMsg, retrieved: retrieved}:
		return true
	default:
		log.Printf("[CURATOR] Queue full, dropping conversation")
		return false
	}
}

// ScheduleReview implements lifecycle.ReviewScheduler over the same queue.
func (c *Curator) ScheduleReview(req review.Request) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.queue <- task{reviewReq: &req}:
		return true
	default:
		return false
	}
}

// Pending reports how many tasks are queued but not started.
func (c *Curator) Pending() int {
	return len(c.queue)
}

func (c *Curator) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case t := <-c.queue:
			if t.reviewReq != nil {
				c.runReview(ctx, *t.reviewReq)
			} else {
				c.analyze(ctx, t.user, t.assistant, t.retrieved)
			}
		}
	}
}

func (c *Curator) runReview(ctx context.Context, req review.Request) {
	if _, ok := c.records.Get(req.Record.ID); !ok {
		return
	}
	verdict := c.reviewer.Review(ctx, req)
	c.life.ApplyVerdict(ctx, req, verdict)
}

func (c *Curator) analyze(ctx context.Context, userMsg, assistantMsg string, retrieved []*core.Record) {
	userMsg = cleanMessage(userMsg)
	assistantMsg = cleanMessage(assistantMsg)
	if userMsg == "" {
		return
	}

	if len(retrieved) == 0 {
		if matches, err := c.records.Search(ctx, userMsg, relatedForOps); err == nil {
			for _, m := range matches {
				retrieved = append(retrieved, m.Record)
			}
		}
	}
	related := "（无）"
	if len(retrieved) > 0 {
		var b strings.Builder
		for _, rec := range retrieved {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", rec.ID, rec.Category, rec.Text)
		}
		related = strings.TrimRight(b.String(), "\n")
	}

	resp, err := c.gen.Generate(ctx, curatorSystem, fmt.Sprintf(curatorPrompt, related, userMsg, assistantMsg))
	if err != nil {
		log.Printf("[CURATOR] Analysis failed: %v", err)
		return
	}

	for _, line := range strings.Split(resp, "\n") {
		c.execute(ctx, strings.TrimSpace(line))
	}
}

// execute applies one operation line. Unknown lines are ignored so stray
// model prose cannot corrupt the stores.
func (c *Curator) execute(ctx context.Context, line string) {
	switch {
	case line == "" || strings.HasPrefix(line, "[SKIP]"):
		return

	case opAdd.MatchString(line):
		m := opAdd.FindStringSubmatch(line)
		category, text := core.Category(m[1]), strings.TrimSpace(m[2])
		id, err := c.life.AddWithDedup(ctx, text, record.Meta{Category: category, Source: "curator"})
		if err != nil {
			log.Printf("[CURATOR] Add failed: %v", err)
			return
		}
		log.Printf("[CURATOR] Added %s (%s)", id, category)
		if category == core.CategoryFact {
			c.extractTriples(ctx, id, text)
		}

	case opUpdate.MatchString(line):
		m := opUpdate.FindStringSubmatch(line)
		id, text := m[1], strings.TrimSpace(m[2])
		ok, err := c.records.UpdateText(ctx, id, text)
		if err != nil || !ok {
			log.Printf("[CURATOR] Update %s failed (found=%v err=%v)", id, ok, err)
			return
		}
		// Rebuild graph evidence from the new text.
		if _, err := c.triples.RemoveSource(id); err != nil {
			log.Printf("[CURATOR] Clear triples for %s failed: %v", id, err)
		}
		c.extractTriples(ctx, id, text)
		log.Printf("[CURATOR] Updated %s", id)

	case opBoost.MatchString(line):
		id := opBoost.FindStringSubmatch(line)[1]
		if c.life.UpdateImportance(ctx, id, reinforceBoost, true) {
			log.Printf("[CURATOR] Reinforced %s", id)
		}

	case opDelete.MatchString(line):
		id := opDelete.FindStringSubmatch(line)[1]
		if rec, ok := c.records.Get(id); ok && rec.Category.Permanent() {
			log.Printf("[CURATOR] Refusing to delete %s record %s", rec.Category, id)
			return
		}
		if ok, err := c.records.Delete(id); err != nil {
			log.Printf("[CURATOR] Delete %s failed: %v", id, err)
		} else if ok {
			log.Printf("[CURATOR] Deleted %s", id)
		}

	default:
		log.Printf("[CURATOR] Ignoring unrecognized line: %s", truncate(line, 80))
	}
}

func (c *Curator) extractTriples(ctx context.Context, memoryID, text string) {
	for _, cand := range c.extractor.Extract(ctx, text) {
		if _, _, err := c.triples.Add(cand.Subject, cand.Predicate, cand.Object, memoryID, cand.Metadata); err != nil {
			log.Printf("[CURATOR] Store triple failed: %v", err)
		}
	}
}

// cleanMessage strips code blocks and collapses whitespace so prompts stay
// small and the model is not distracted by payload content.
func cleanMessage(s string) string {
	s = codeFence.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return truncate(strings.TrimSpace(s), maxMessageRunes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
