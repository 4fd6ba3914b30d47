package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kioku-ai/kioku/curator"
	"github.com/kioku-ai/kioku/embedding/mock"
	"github.com/kioku-ai/kioku/lifecycle"
	"github.com/kioku-ai/kioku/llm"
	"github.com/kioku-ai/kioku/record"
	"github.com/kioku-ai/kioku/retrieval"
	"github.com/kioku-ai/kioku/review"
	"github.com/kioku-ai/kioku/triple"
)

func newTestClient(t *testing.T) (*Client, *triple.Store) {
	t.Helper()

	gen := llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "[SKIP]", nil
	})
	records, err := record.Open("", mock.New(8))
	if err != nil {
		t.Fatalf("open record store: %v", err)
	}
	triples, _ := triple.Open("")
	life := lifecycle.New(records, triples, lifecycle.Config{})
	cur := curator.New(gen, records, triples, life, review.New(gen, records))
	life.SetScheduler(cur)

	srv := httptest.NewServer(New(records, triples, life, retrieval.New(records, triples), cur, 5).Handler())
	t.Cleanup(srv.Close)

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, triples
}

func TestAddGetDelete(t *testing.T) {
	client, _ := newTestClient(t)

	id, err := client.Add("主人喜欢吃拉面", "fact", 1.0)
	if err != nil || id == "" {
		t.Fatalf("add: id=%q err=%v", id, err)
	}

	rec, err := client.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Text != "主人喜欢吃拉面" || rec.Category != "fact" {
		t.Errorf("record = %+v", rec)
	}

	deleted, err := client.Delete(id)
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, err := client.Get(id); err == nil {
		t.Error("get succeeded after delete")
	}
}

func TestAddRejectsBadCategory(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.Add("text", "dream", 0); err == nil {
		t.Fatal("unknown category accepted")
	}
}

func TestDeleteRefusesPermanent(t *testing.T) {
	client, _ := newTestClient(t)
	id, err := client.Add("核心身份", "core", 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := client.Delete(id); err == nil {
		t.Fatal("core record deleted over the wire")
	}
}

func TestSearchAndHybrid(t *testing.T) {
	client, triples := newTestClient(t)

	id, _ := client.Add("小明喜欢爬山", "fact", 0)
	client.Add("今天天气不错", "fact", 0)
	triples.Add("小明", "喜欢", "爬山", id, nil)

	hits, err := client.Search("小明喜欢爬山", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 || hits[0].Record.Text != "小明喜欢爬山" {
		t.Fatalf("search hits = %+v", hits)
	}

	hybrid, err := client.HybridSearch("小明喜欢什么", 2, true)
	if err != nil {
		t.Fatalf("hybrid search: %v", err)
	}
	var found *SearchHit
	for i := range hybrid {
		if hybrid[i].Record.ID == id {
			found = &hybrid[i]
		}
	}
	if found == nil {
		t.Fatal("supported record missing from hybrid results")
	}
	if found.GraphScore == 0 || len(found.Triples) != 1 {
		t.Errorf("graph evidence lost over the wire: %+v", found)
	}
}

func TestHybridSearchIncludeCore(t *testing.T) {
	client, _ := newTestClient(t)

	coreID, err := client.Add("核心身份", "core", 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	client.Add("小明喜欢爬山", "fact", 0)

	pinned, err := client.HybridSearch("小明喜欢爬山", 2, true)
	if err != nil {
		t.Fatalf("hybrid search: %v", err)
	}
	var coreHit *SearchHit
	for i := range pinned {
		if pinned[i].Record.ID == coreID {
			coreHit = &pinned[i]
		}
	}
	if coreHit == nil || coreHit.Score != 10.0 {
		t.Fatalf("core record not pinned: %+v", coreHit)
	}

	unpinned, err := client.HybridSearch("小明喜欢爬山", 2, false)
	if err != nil {
		t.Fatalf("hybrid search: %v", err)
	}
	for _, hit := range unpinned {
		if hit.Score == 10.0 {
			t.Errorf("record %s pinned despite include_core=false", hit.Record.ID)
		}
	}
}

func TestAddBatchBulkInserts(t *testing.T) {
	client, _ := newTestClient(t)

	ids, err := client.AddBatch([]string{"小明喜欢爬山", "小明喜欢爬山"})
	if err != nil {
		t.Fatalf("add batch: %v", err)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("ids = %v, want two distinct records", ids)
	}

	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 2 {
		t.Errorf("records = %d, want 2 (batch path must not dedup)", stats.Records)
	}
}

func TestAnalyzeAndStats(t *testing.T) {
	client, _ := newTestClient(t)

	queued, err := client.Analyze("我搬到上海了", "恭喜！")
	if err != nil || !queued {
		t.Fatalf("analyze: queued=%v err=%v", queued, err)
	}

	client.Add("一条事实", "fact", 0)
	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 1 {
		t.Errorf("records = %d, want 1", stats.Records)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1 (consumer not started)", stats.Pending)
	}
}

func TestUnknownAction(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.call(Request{Action: "nope"}, nil); err == nil {
		t.Fatal("unknown action accepted")
	}
}
