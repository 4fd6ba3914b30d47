package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/embedding/mock"
	"github.com/kioku-ai/kioku/record"
	"github.com/kioku-ai/kioku/review"
	"github.com/kioku-ai/kioku/triple"
)

type fakeScheduler struct {
	reqs []review.Request
}

func (f *fakeScheduler) ScheduleReview(req review.Request) bool {
	f.reqs = append(f.reqs, req)
	return true
}

type fixture struct {
	records *record.Store
	triples *triple.Store
	emb     *mock.Embedder
	sched   *fakeScheduler
	life    *Manager
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	emb := mock.New(8)
	records, err := record.Open("", emb)
	if err != nil {
		t.Fatalf("open record store: %v", err)
	}
	triples, _ := triple.Open("")

	f := &fixture{
		records: records,
		triples: triples,
		emb:     emb,
		sched:   &fakeScheduler{},
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.life = New(records, triples, Config{},
		WithScheduler(f.sched),
		WithClock(func() time.Time { return f.now }))
	return f
}

func TestAddWithDedupMergesSimilar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	f.emb.SetVector("主人喜欢吃拉面", vec)
	f.emb.SetVector("主人爱吃拉面", vec)

	first, err := f.life.AddWithDedup(ctx, "主人喜欢吃拉面", record.Meta{})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	second, err := f.life.AddWithDedup(ctx, "主人爱吃拉面", record.Meta{})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}

	if second != first {
		t.Fatalf("near-duplicate inserted as new record %s", second)
	}
	if f.records.Count() != 1 {
		t.Fatalf("count = %d, want 1", f.records.Count())
	}
	rec, _ := f.records.Get(first)
	if rec.Importance != 1.5 {
		t.Errorf("importance after merge = %v, want 1.5", rec.Importance)
	}
}

func TestAddWithDedupInsertsDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.emb.SetVector("主人喜欢吃拉面", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	f.emb.SetVector("小明住在北京", []float32{0, 1, 0, 0, 0, 0, 0, 0})

	a, _ := f.life.AddWithDedup(ctx, "主人喜欢吃拉面", record.Meta{})
	b, _ := f.life.AddWithDedup(ctx, "小明住在北京", record.Meta{})
	if a == b || f.records.Count() != 2 {
		t.Fatalf("distinct texts merged: count=%d", f.records.Count())
	}
}

func TestUpdateImportanceFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _ := f.records.Add(ctx, "fading", record.Meta{})
	if !f.life.UpdateImportance(ctx, id, -5, false) {
		t.Fatal("update reported failure")
	}
	rec, _ := f.records.Get(id)
	if rec.Importance != 0 {
		t.Errorf("importance = %v, want 0", rec.Importance)
	}
	if rec.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", rec.AccessCount)
	}
}

func TestBoostCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.records.Add(ctx, "boosted", record.Meta{})

	// Ten rapid boosts land exactly one application.
	applied := 0
	for i := 0; i < 10; i++ {
		if f.life.BoostWithCooldown(ctx, id) {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("applied = %d boosts within cooldown, want 1", applied)
	}
	rec, _ := f.records.Get(id)
	if got := rec.Importance - 1.0; got > f.life.Config().BoostDailyCap {
		t.Errorf("importance grew by %v, beyond the daily cap", got)
	}
}

func TestBoostDailyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.records.Add(ctx, "boosted", record.Meta{})

	if !f.life.BoostWithCooldown(ctx, id) {
		t.Fatal("first boost refused")
	}
	f.now = f.now.Add(2*time.Hour + time.Minute)
	if !f.life.BoostWithCooldown(ctx, id) {
		t.Fatal("second boost refused after cooldown")
	}
	// Cap reached for the day; cooldown alone no longer helps.
	f.now = f.now.Add(2*time.Hour + time.Minute)
	if f.life.BoostWithCooldown(ctx, id) {
		t.Fatal("third boost applied past the daily cap")
	}

	rec, _ := f.records.Get(id)
	if got := rec.Importance - 1.0; got != f.life.Config().BoostDailyCap {
		t.Errorf("total boost for the day = %v, want %v", got, f.life.Config().BoostDailyCap)
	}

	// A new day resets the cap.
	f.now = f.now.Add(24 * time.Hour)
	if !f.life.BoostWithCooldown(ctx, id) {
		t.Error("boost refused on the next day")
	}
}

func TestPromotionScheduledOnceRejectionSticky(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.records.Add(ctx, "重要的事实", record.Meta{})

	boost := func() {
		f.now = f.now.Add(25 * time.Hour) // clears cooldown and the daily cap
		if !f.life.BoostWithCooldown(ctx, id) {
			t.Fatal("boost refused")
		}
	}

	boost() // 1.5
	boost() // 2.0
	if len(f.sched.reqs) != 0 {
		t.Fatalf("review scheduled below threshold")
	}
	boost() // 2.5, crosses the threshold
	if len(f.sched.reqs) != 1 {
		t.Fatalf("scheduled %d reviews, want 1", len(f.sched.reqs))
	}
	req := f.sched.reqs[0]
	if req.Kind != review.KindPromote || req.Record.ID != id {
		t.Fatalf("unexpected request %+v", req)
	}

	// A KEEP verdict permanently bars re-promotion.
	f.life.ApplyVerdict(ctx, req, review.VerdictKeep)
	rec, _ := f.records.Get(id)
	if !rec.PromotionRejected {
		t.Fatal("rejection not recorded")
	}
	boost() // 3.0, still over the threshold
	if len(f.sched.reqs) != 1 {
		t.Errorf("rejected record re-entered review")
	}
}

func TestPromoteVerdictMakesCore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.records.Add(ctx, "高价值记忆", record.Meta{})
	rec, _ := f.records.Get(id)

	f.life.ApplyVerdict(ctx, review.Request{Record: rec, Kind: review.KindPromote}, review.VerdictPromote)
	rec, _ = f.records.Get(id)
	if rec.Category != core.CategoryCore {
		t.Errorf("category = %s, want core", rec.Category)
	}
}

func TestDeleteVerdictCascadesTriples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.records.Add(ctx, "小明住在北京", record.Meta{})
	f.triples.Add("小明", "住在", "北京", id, nil)

	rec, _ := f.records.Get(id)
	f.life.ApplyVerdict(ctx, review.Request{Record: rec, Kind: review.KindDecay}, review.VerdictDelete)

	if _, ok := f.records.Get(id); ok {
		t.Fatal("record survived delete verdict")
	}
	if f.triples.Count() != 0 {
		t.Error("orphaned triple survived the cascade")
	}
}

func TestDecayKeepVerdictSetsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.records.Add(ctx, "还有用的记忆", record.Meta{Importance: 0.1})
	rec, _ := f.records.Get(id)

	f.life.ApplyVerdict(ctx, review.Request{Record: rec, Kind: review.KindDecay}, review.VerdictKeep)
	rec, _ = f.records.Get(id)
	if rec.Importance != f.life.Config().KeepFloor {
		t.Errorf("importance = %v, want floor %v", rec.Importance, f.life.Config().KeepFloor)
	}
	if !rec.DeleteCooldownUntil.Equal(f.now.Add(24 * time.Hour)) {
		t.Errorf("cooldown until %v, want %v", rec.DeleteCooldownUntil, f.now.Add(24*time.Hour))
	}
}

func TestDecayPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	age := func(id string, d time.Duration, importance float64) {
		f.records.Update(ctx, id, func(r *core.Record) {
			r.LastAccess = f.now.Add(-d)
			r.Importance = importance
		})
	}

	freshFact, _ := f.records.Add(ctx, "新鲜事实", record.Meta{})
	oldFact, _ := f.records.Add(ctx, "有点旧的事实", record.Meta{})
	dyingFact, _ := f.records.Add(ctx, "快被遗忘的事实", record.Meta{})
	oldEpisode, _ := f.records.Add(ctx, "上周的对话", record.Meta{Category: core.CategoryEpisode})
	ancientEpisode, _ := f.records.Add(ctx, "很久以前的对话", record.Meta{Category: core.CategoryEpisode})
	coreRec, _ := f.records.Add(ctx, "核心记忆", record.Meta{Category: core.CategoryCore})

	age(freshFact, 24*time.Hour, 1.0)
	age(oldFact, 6*24*time.Hour, 1.0)
	age(dyingFact, 6*24*time.Hour, 0.2)
	age(oldEpisode, 4*24*time.Hour, 0.2)
	age(ancientEpisode, 8*24*time.Hour, 5.0)
	age(coreRec, 30*24*time.Hour, 1.0)

	decayed, deleted := f.life.DecayPass(ctx)
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if decayed != 2 {
		t.Fatalf("decayed = %d, want 2", decayed)
	}

	if rec, _ := f.records.Get(freshFact); rec.Importance != 1.0 {
		t.Error("fact inside grace period decayed")
	}
	if rec, _ := f.records.Get(oldFact); rec.Importance != 0.85 {
		t.Errorf("old fact importance = %v, want 0.85", rec.Importance)
	}
	if _, ok := f.records.Get(oldEpisode); ok {
		t.Error("decayed episode under threshold survived")
	}
	if _, ok := f.records.Get(ancientEpisode); ok {
		t.Error("episode past max age survived despite high importance")
	}
	if rec, _ := f.records.Get(coreRec); rec.Importance != 1.0 {
		t.Error("core record decayed")
	}

	// Only the dying fact reached review, and as a decay request.
	if len(f.sched.reqs) != 1 {
		t.Fatalf("scheduled %d reviews, want 1", len(f.sched.reqs))
	}
	if req := f.sched.reqs[0]; req.Kind != review.KindDecay || req.Record.ID != dyingFact {
		t.Errorf("unexpected review request %+v", req)
	}
}

func TestDecayReviewSuppressedByCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _ := f.records.Add(ctx, "刚被复核过的事实", record.Meta{})
	f.records.Update(ctx, id, func(r *core.Record) {
		r.LastAccess = f.now.Add(-6 * 24 * time.Hour)
		r.Importance = 0.1
		r.DeleteCooldownUntil = f.now.Add(time.Hour)
	})

	decayed, _ := f.life.DecayPass(ctx)
	if decayed != 1 {
		t.Fatalf("decayed = %d, want 1", decayed)
	}
	if len(f.sched.reqs) != 0 {
		t.Error("review scheduled despite active cooldown")
	}
}
