// Package review implements the curator's deep-judgement pass: when a record
// crosses a lifecycle threshold, a bounded chain-of-thought loop over the
// generate capability decides whether it is promoted, kept or deleted.
//
// The loop is a hard state machine, never an open-ended retry: at most
// MaxRounds generator calls, a [SEARCH:query] tool step allowed on all but
// the last round, a forced re-ask when a round produces no verdict, and KEEP
// as the terminal default. Any failure degrades to KEEP: the reviewer fails
// safe, never fail-delete.
package review

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/llm"
	"github.com/kioku-ai/kioku/record"
)

// Kind selects which review is being run.
type Kind string

const (
	// KindPromote asks whether a frequently-reinforced record should become
	// a permanent core memory.
	KindPromote Kind = "promote"

	// KindDecay asks whether a faded record should be forgotten.
	KindDecay Kind = "decay"
)

// Verdict is a terminal review outcome.
type Verdict string

const (
	VerdictPromote Verdict = "PROMOTE"
	VerdictKeep    Verdict = "KEEP"
	VerdictDelete  Verdict = "DELETE"
)

// Request is the ephemeral unit of review work: a snapshot of the record at
// scheduling time plus the review kind. It is never persisted.
type Request struct {
	Record *core.Record
	Kind   Kind
}

// MaxRounds caps the chain-of-thought loop.
const MaxRounds = 3

// relatedLimit bounds how many related records each round may see.
const relatedLimit = 5

var searchPattern = regexp.MustCompile(`\[SEARCH:(.+?)\]`)

// Reviewer runs review requests against the record store and the generator.
type Reviewer struct {
	gen     llm.Generator
	records *record.Store
}

// New builds a reviewer.
func New(gen llm.Generator, records *record.Store) *Reviewer {
	return &Reviewer{gen: gen, records: records}
}

// Review runs the chain-of-thought loop and returns the verdict. The decay
// path never returns PROMOTE; an off-path tag reads as KEEP.
func (r *Reviewer) Review(ctx context.Context, req Request) Verdict {
	verdict := r.run(ctx, req)
	if req.Kind == KindDecay && verdict == VerdictPromote {
		verdict = VerdictKeep
	}
	log.Printf("[REVIEW] %s review %s -> %s", req.Kind, req.Record.ID, verdict)
	return verdict
}

func (r *Reviewer) run(ctx context.Context, req Request) Verdict {
	base := r.buildPrompt(ctx, req)

	// The transcript is replayed in full each round; the generator keeps no
	// state between calls.
	var transcript []string

	for round := 0; round < MaxRounds; round++ {
		prompt := base
		if len(transcript) > 0 {
			prompt += "\n\n" + strings.Join(transcript, "\n\n")
		}

		resp, err := r.gen.Generate(ctx, reviewerSystem, prompt)
		if err != nil {
			log.Printf("[REVIEW] Round %d failed for %s: %v", round+1, req.Record.ID, err)
			return VerdictKeep
		}

		if m := searchPattern.FindStringSubmatch(resp); m != nil && round < MaxRounds-1 {
			query := strings.TrimSpace(m[1])
			results := r.related(ctx, query, req.Record.ID, 3)
			transcript = append(transcript,
				"[之前的分析]\n"+resp,
				"搜索结果:\n"+formatRelated(results)+"\n\n请继续你的分析，并给出最终决策。")
			continue
		}

		switch {
		case strings.Contains(resp, "[PROMOTE]"):
			return VerdictPromote
		case strings.Contains(resp, "[DELETE]"):
			return VerdictDelete
		case strings.Contains(resp, "[KEEP]"):
			return VerdictKeep
		}

		if round < MaxRounds-1 {
			transcript = append(transcript,
				"[之前的分析]\n"+resp,
				"请给出明确的决策：[PROMOTE]、[KEEP] 或 [DELETE]")
			continue
		}
	}

	log.Printf("[REVIEW] No terminal verdict for %s, defaulting to KEEP", req.Record.ID)
	return VerdictKeep
}

func (r *Reviewer) buildPrompt(ctx context.Context, req Request) string {
	rec := req.Record
	info := fmt.Sprintf(`ID: %s
内容: %s
重要性: %.2f
创建时间: %s
最后访问: %s
来源: %s
已验证: %v`,
		rec.ID, rec.Text, rec.Importance,
		formatTime(rec.Timestamp), formatTime(rec.LastAccess),
		orUnknown(rec.Source), rec.Verified)

	related := formatRelated(r.related(ctx, rec.Text, rec.ID, relatedLimit))

	template := promotePrompt
	if req.Kind == KindDecay {
		template = decayPrompt
	}
	return fmt.Sprintf(template, info, related)
}

func (r *Reviewer) related(ctx context.Context, query, excludeID string, n int) []record.Match {
	matches, err := r.records.Search(ctx, query, n+1)
	if err != nil {
		log.Printf("[REVIEW] Related search failed: %v", err)
		return nil
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Record.ID != excludeID {
			out = append(out, m)
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func formatRelated(matches []record.Match) string {
	if len(matches) == 0 {
		return "(无相关记忆)"
	}
	var lines []string
	for _, m := range matches {
		if len(lines) == relatedLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("- [%s] (%s, imp=%.1f) %s",
			m.Record.ID, m.Record.Category, m.Record.Importance,
			truncateRunes(m.Record.Text, 60)))
	}
	return strings.Join(lines, "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "未知"
	}
	return t.Format("2006-01-02 15:04")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
