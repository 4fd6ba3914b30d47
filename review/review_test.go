package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/embedding/mock"
	"github.com/kioku-ai/kioku/llm"
	"github.com/kioku-ai/kioku/record"
)

func testRecords(t *testing.T) *record.Store {
	t.Helper()
	s, err := record.Open("", mock.New(8))
	if err != nil {
		t.Fatalf("open record store: %v", err)
	}
	return s
}

func testRequest(kind Kind) Request {
	return Request{
		Record: &core.Record{ID: "mem-1", Text: "主人喜欢吃拉面", Importance: 2.5},
		Kind:   kind,
	}
}

// scripted returns canned responses in order, recording each prompt.
func scripted(prompts *[]string, responses ...string) llm.Generator {
	i := 0
	return llm.GeneratorFunc(func(ctx context.Context, system, prompt string) (string, error) {
		*prompts = append(*prompts, prompt)
		if i >= len(responses) {
			return "", errors.New("no more scripted responses")
		}
		resp := responses[i]
		i++
		return resp, nil
	})
}

func TestImmediateVerdict(t *testing.T) {
	var prompts []string
	r := New(scripted(&prompts, "这条记忆很有价值。[PROMOTE]"), testRecords(t))

	if v := r.Review(context.Background(), testRequest(KindPromote)); v != VerdictPromote {
		t.Errorf("verdict = %s, want PROMOTE", v)
	}
	if len(prompts) != 1 {
		t.Errorf("generator called %d times, want 1", len(prompts))
	}
}

func TestVerdictPrecedence(t *testing.T) {
	var prompts []string
	r := New(scripted(&prompts, "[PROMOTE] 但也可以 [DELETE]"), testRecords(t))
	if v := r.Review(context.Background(), testRequest(KindPromote)); v != VerdictPromote {
		t.Errorf("verdict = %s, want PROMOTE to win precedence", v)
	}
}

func TestSearchThenVerdict(t *testing.T) {
	records := testRecords(t)
	records.Add(context.Background(), "主人每周吃三次拉面", record.Meta{})

	var prompts []string
	r := New(scripted(&prompts,
		"我需要更多信息。[SEARCH:拉面]",
		"有佐证，保留。[KEEP]",
	), records)

	if v := r.Review(context.Background(), testRequest(KindPromote)); v != VerdictKeep {
		t.Errorf("verdict = %s, want KEEP", v)
	}
	if len(prompts) != 2 {
		t.Fatalf("generator called %d times, want 2", len(prompts))
	}
	if !strings.Contains(prompts[1], "搜索结果") || !strings.Contains(prompts[1], "主人每周吃三次拉面") {
		t.Error("second round did not receive the search results")
	}
	if !strings.Contains(prompts[1], "[之前的分析]") {
		t.Error("second round lost the transcript")
	}
}

func TestSearchIgnoredOnFinalRound(t *testing.T) {
	var prompts []string
	// Every round stalls with a search; the last one cannot, and carries no
	// verdict either, so the loop terminates on the default.
	r := New(scripted(&prompts,
		"[SEARCH:one]",
		"[SEARCH:two]",
		"[SEARCH:three]",
	), testRecords(t))

	if v := r.Review(context.Background(), testRequest(KindPromote)); v != VerdictKeep {
		t.Errorf("verdict = %s, want default KEEP", v)
	}
	if len(prompts) != MaxRounds {
		t.Errorf("generator called %d times, want %d", len(prompts), MaxRounds)
	}
}

func TestNoVerdictReasked(t *testing.T) {
	var prompts []string
	r := New(scripted(&prompts,
		"我还在想。",
		"想好了。[DELETE]",
	), testRecords(t))

	if v := r.Review(context.Background(), testRequest(KindPromote)); v != VerdictDelete {
		t.Errorf("verdict = %s, want DELETE", v)
	}
	if !strings.Contains(prompts[1], "请给出明确的决策") {
		t.Error("second round missing the forced re-ask")
	}
}

func TestAllRoundsWithoutVerdictDefaultsKeep(t *testing.T) {
	var prompts []string
	r := New(scripted(&prompts, "嗯。", "嗯嗯。", "嗯嗯嗯。"), testRecords(t))

	if v := r.Review(context.Background(), testRequest(KindPromote)); v != VerdictKeep {
		t.Errorf("verdict = %s, want KEEP", v)
	}
	if len(prompts) != MaxRounds {
		t.Errorf("generator called %d times, want %d", len(prompts), MaxRounds)
	}
}

func TestGeneratorErrorFailsSafe(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("rate limited")
	})
	r := New(gen, testRecords(t))
	if v := r.Review(context.Background(), testRequest(KindDecay)); v != VerdictKeep {
		t.Errorf("verdict = %s, want KEEP on failure", v)
	}
}

func TestDecayNeverPromotes(t *testing.T) {
	var prompts []string
	r := New(scripted(&prompts, "[PROMOTE]"), testRecords(t))
	if v := r.Review(context.Background(), testRequest(KindDecay)); v != VerdictKeep {
		t.Errorf("verdict = %s, want PROMOTE read as KEEP on the decay path", v)
	}
}

func TestPromptCarriesRecordAndKind(t *testing.T) {
	var prompts []string
	r := New(scripted(&prompts, "[KEEP]"), testRecords(t))
	r.Review(context.Background(), testRequest(KindPromote))

	if !strings.Contains(prompts[0], "主人喜欢吃拉面") {
		t.Error("prompt missing the record text")
	}
	if !strings.Contains(prompts[0], "mem-1") {
		t.Error("prompt missing the record id")
	}
}
