// Package lifecycle implements scoring, decay, dedup-merge and boost rules
// over the record store, and schedules asynchronous reviews when a record
// crosses a threshold. It is the only writer that mutates importance and
// category fields; every importance change funnels through UpdateImportance
// or the boost path so the promotion-trigger check can never be bypassed.
package lifecycle

import (
	"context"
	"log"
	"time"

	"github.com/kioku-ai/kioku/core"
	"github.com/kioku-ai/kioku/record"
	"github.com/kioku-ai/kioku/review"
	"github.com/kioku-ai/kioku/triple"
)

// Config holds every lifecycle threshold. Zero values are filled from
// DefaultConfig, so a partially-populated config is usable.
type Config struct {
	// PromoteThreshold is the importance at which a promotion review fires.
	PromoteThreshold float64

	// DecayThreshold is the importance under which a decayed record is
	// reviewed for deletion (facts) or dropped (episodes).
	DecayThreshold float64

	// DeleteCooldown suppresses re-review of a record a decay review just
	// reaffirmed.
	DeleteCooldown time.Duration

	BoostValue    float64
	BoostCooldown time.Duration
	BoostDailyCap float64

	// DedupSimilarity is the similarity at which AddWithDedup merges instead
	// of inserting; DedupBoost is the importance delta the merge applies.
	DedupSimilarity float64
	DedupBoost      float64

	// Category-specific decay: facts get a grace period then multiplicative
	// decay per pass; episodes decay harder and are hard-deleted at MaxAge.
	FactGrace          time.Duration
	FactDecayFactor    float64
	EpisodeGrace       time.Duration
	EpisodeDecayFactor float64
	EpisodeMaxAge      time.Duration

	// KeepFloor is the importance a decay-KEEP verdict resets to.
	KeepFloor float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		PromoteThreshold:   2.5,
		DecayThreshold:     0.2,
		DeleteCooldown:     24 * time.Hour,
		BoostValue:         0.5,
		BoostCooldown:      2 * time.Hour,
		BoostDailyCap:      1.0,
		DedupSimilarity:    0.85,
		DedupBoost:         0.5,
		FactGrace:          5 * 24 * time.Hour,
		FactDecayFactor:    0.85,
		EpisodeGrace:       3 * 24 * time.Hour,
		EpisodeDecayFactor: 0.6,
		EpisodeMaxAge:      7 * 24 * time.Hour,
		KeepFloor:          0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PromoteThreshold == 0 {
		c.PromoteThreshold = d.PromoteThreshold
	}
	if c.DecayThreshold == 0 {
		c.DecayThreshold = d.DecayThreshold
	}
	if c.DeleteCooldown == 0 {
		c.DeleteCooldown = d.DeleteCooldown
	}
	if c.BoostValue == 0 {
		c.BoostValue = d.BoostValue
	}
	if c.BoostCooldown == 0 {
		c.BoostCooldown = d.BoostCooldown
	}
	if c.BoostDailyCap == 0 {
		c.BoostDailyCap = d.BoostDailyCap
	}
	if c.DedupSimilarity == 0 {
		c.DedupSimilarity = d.DedupSimilarity
	}
	if c.DedupBoost == 0 {
		c.DedupBoost = d.DedupBoost
	}
	if c.FactGrace == 0 {
		c.FactGrace = d.FactGrace
	}
	if c.FactDecayFactor == 0 {
		c.FactDecayFactor = d.FactDecayFactor
	}
	if c.EpisodeGrace == 0 {
		c.EpisodeGrace = d.EpisodeGrace
	}
	if c.EpisodeDecayFactor == 0 {
		c.EpisodeDecayFactor = d.EpisodeDecayFactor
	}
	if c.EpisodeMaxAge == 0 {
		c.EpisodeMaxAge = d.EpisodeMaxAge
	}
	if c.KeepFloor == 0 {
		c.KeepFloor = d.KeepFloor
	}
	return c
}

// ReviewScheduler is where the manager hands off review work. The curator's
// bounded queue implements it; Schedule must not block and reports whether
// the request was accepted.
type ReviewScheduler interface {
	ScheduleReview(req review.Request) bool
}

// Manager applies the lifecycle rules. It holds no persistent state of its
// own: it is a pure function over the two stores plus the scheduler.
type Manager struct {
	records   *record.Store
	triples   *triple.Store
	scheduler ReviewScheduler
	cfg       Config
	now       func() time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithScheduler wires the review scheduler. Without one, threshold crossings
// are logged and dropped.
func WithScheduler(s ReviewScheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithClock overrides the time source. Tests use this to elapse cooldowns.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New builds a manager and subscribes the triple store's provenance cascade
// to record deletions, so no deletion path can skip it.
func New(records *record.Store, triples *triple.Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		records: records,
		triples: triples,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	records.OnDelete(func(id string) {
		removed, err := triples.RemoveSource(id)
		if err != nil {
			log.Printf("[LIFECYCLE] Triple cascade for %s failed: %v", id, err)
			return
		}
		if len(removed) > 0 {
			log.Printf("[LIFECYCLE] Cascade removed %d unsupported triples for %s", len(removed), id)
		}
	})
	return m
}

// SetScheduler installs the review scheduler after construction. The
// curator needs the manager to apply verdicts, so the two are wired in two
// steps. Call before any lifecycle activity starts.
func (m *Manager) SetScheduler(s ReviewScheduler) {
	m.scheduler = s
}

// Config returns the effective thresholds.
func (m *Manager) Config() Config {
	return m.cfg
}

// AddWithDedup inserts text unless a sufficiently similar record already
// exists, in which case that record's importance is boosted instead and its
// id returned (merge-not-duplicate).
func (m *Manager) AddWithDedup(ctx context.Context, text string, meta record.Meta) (string, error) {
	matches, err := m.records.Search(ctx, text, 5)
	if err != nil {
		return "", err
	}
	if len(matches) > 0 {
		best := matches[0]
		if sim := record.Similarity(best.Distance); sim >= m.cfg.DedupSimilarity {
			m.UpdateImportance(ctx, best.Record.ID, m.cfg.DedupBoost, true)
			log.Printf("[LIFECYCLE] Merged into %s (similarity %.2f)", best.Record.ID, sim)
			return best.Record.ID, nil
		}
	}
	return m.records.Add(ctx, text, meta)
}

// UpdateImportance shifts a record's importance by delta (floored at zero)
// and refreshes its access telemetry. With triggerReview set, crossing the
// promotion threshold schedules a promotion review unless the record is
// permanent or was already rejected. Returns false for an unknown id.
func (m *Manager) UpdateImportance(ctx context.Context, id string, delta float64, triggerReview bool) bool {
	now := m.now()
	ok, err := m.records.Update(ctx, id, func(r *core.Record) {
		r.Importance = r.Importance + delta
		if r.Importance < 0 {
			r.Importance = 0
		}
		r.AccessCount++
		r.LastAccess = now
	})
	if err != nil {
		log.Printf("[LIFECYCLE] Update importance %s failed: %v", id, err)
		return false
	}
	if !ok {
		return false
	}
	if triggerReview {
		m.maybeSchedulePromotion(id)
	}
	return true
}

// BoostWithCooldown applies the standard boost unless the record was boosted
// within the cooldown window or has hit the daily cap. Returns whether the
// boost was applied.
func (m *Manager) BoostWithCooldown(ctx context.Context, id string) bool {
	rec, ok := m.records.Get(id)
	if !ok {
		return false
	}

	now := m.now()
	today := now.Format("2006-01-02")

	if !rec.LastBoost.IsZero() && now.Sub(rec.LastBoost) < m.cfg.BoostCooldown {
		log.Printf("[LIFECYCLE] Boost for %s still cooling down", id)
		return false
	}
	if rec.BoostDay == today && rec.DailyBoost >= m.cfg.BoostDailyCap {
		log.Printf("[LIFECYCLE] Boost for %s hit the daily cap", id)
		return false
	}

	ok, err := m.records.Update(ctx, id, func(r *core.Record) {
		if r.BoostDay != today {
			r.BoostDay = today
			r.DailyBoost = 0
		}
		r.Importance += m.cfg.BoostValue
		r.DailyBoost += m.cfg.BoostValue
		r.LastBoost = now
		r.AccessCount++
		r.LastAccess = now
	})
	if err != nil || !ok {
		if err != nil {
			log.Printf("[LIFECYCLE] Boost %s failed: %v", id, err)
		}
		return false
	}

	m.maybeSchedulePromotion(id)
	return true
}

// DecayPass ages every non-permanent record: episodes past their horizon are
// hard-deleted, decayed episodes under the threshold are dropped outright,
// and decayed facts under the threshold are scheduled for decay review
// unless a previous review put them on cooldown. Returns how many records
// were decayed and deleted.
func (m *Manager) DecayPass(ctx context.Context) (decayed, deleted int) {
	now := m.now()

	for _, rec := range m.records.All() {
		if rec.Category.Permanent() {
			continue
		}

		last := rec.LastAccess
		if last.IsZero() {
			last = rec.Timestamp
		}
		elapsed := now.Sub(last)

		if rec.Category == core.CategoryEpisode {
			switch {
			case elapsed > m.cfg.EpisodeMaxAge:
				if m.deleteRecord(rec.ID, "expired episode") {
					deleted++
				}
			case elapsed > m.cfg.EpisodeGrace:
				next := rec.Importance * m.cfg.EpisodeDecayFactor
				if next < m.cfg.DecayThreshold {
					if m.deleteRecord(rec.ID, "forgotten episode") {
						deleted++
					}
				} else if m.setImportance(ctx, rec.ID, next) {
					decayed++
				}
			}
			continue
		}

		// fact and feeling share the slower decay schedule.
		if elapsed <= m.cfg.FactGrace {
			continue
		}
		next := rec.Importance * m.cfg.FactDecayFactor
		if !m.setImportance(ctx, rec.ID, next) {
			continue
		}
		decayed++

		if next < m.cfg.DecayThreshold {
			if rec.DeleteCooldownUntil.After(now) {
				log.Printf("[LIFECYCLE] Decay review for %s suppressed by cooldown", rec.ID)
				continue
			}
			m.scheduleReview(rec.ID, review.KindDecay)
		}
	}

	if decayed > 0 || deleted > 0 {
		log.Printf("[LIFECYCLE] Decay pass: %d decayed, %d deleted", decayed, deleted)
	}
	return decayed, deleted
}

// ApplyVerdict commits a review outcome. Promotion KEEP permanently bars the
// record from further promotion reviews; decay KEEP resets importance to the
// floor and starts the delete cooldown.
func (m *Manager) ApplyVerdict(ctx context.Context, req review.Request, v review.Verdict) {
	id := req.Record.ID
	switch req.Kind {
	case review.KindPromote:
		switch v {
		case review.VerdictPromote:
			m.records.Update(ctx, id, func(r *core.Record) {
				r.Category = core.CategoryCore
			})
			log.Printf("[LIFECYCLE] Promoted %s to core", id)
		case review.VerdictDelete:
			m.deleteRecord(id, "promotion review")
		case review.VerdictKeep:
			m.records.Update(ctx, id, func(r *core.Record) {
				r.PromotionRejected = true
			})
			log.Printf("[LIFECYCLE] Promotion rejected for %s", id)
		}
	case review.KindDecay:
		switch v {
		case review.VerdictDelete:
			m.deleteRecord(id, "decay review")
		default:
			now := m.now()
			m.records.Update(ctx, id, func(r *core.Record) {
				r.Importance = m.cfg.KeepFloor
				r.LastAccess = now
				r.DeleteCooldownUntil = now.Add(m.cfg.DeleteCooldown)
			})
			log.Printf("[LIFECYCLE] Decay review kept %s, cooldown until %s",
				id, m.now().Add(m.cfg.DeleteCooldown).Format(time.RFC3339))
		}
	}
}

// setImportance writes importance without touching access telemetry and
// without the promotion check: decay must never look like a read.
func (m *Manager) setImportance(ctx context.Context, id string, value float64) bool {
	ok, err := m.records.Update(ctx, id, func(r *core.Record) {
		r.Importance = value
	})
	if err != nil {
		log.Printf("[LIFECYCLE] Decay update %s failed: %v", id, err)
		return false
	}
	return ok
}

func (m *Manager) deleteRecord(id, reason string) bool {
	ok, err := m.records.Delete(id)
	if err != nil {
		log.Printf("[LIFECYCLE] Delete %s (%s) failed: %v", id, reason, err)
		return false
	}
	return ok
}

func (m *Manager) maybeSchedulePromotion(id string) {
	rec, ok := m.records.Get(id)
	if !ok {
		return
	}
	if rec.Importance < m.cfg.PromoteThreshold {
		return
	}
	if rec.Category.Permanent() {
		return
	}
	if rec.PromotionRejected {
		log.Printf("[LIFECYCLE] Promotion review for %s skipped (previously rejected)", id)
		return
	}
	m.scheduleReview(id, review.KindPromote)
}

func (m *Manager) scheduleReview(id string, kind review.Kind) {
	if m.scheduler == nil {
		log.Printf("[LIFECYCLE] No scheduler, dropping %s review for %s", kind, id)
		return
	}
	rec, ok := m.records.Get(id)
	if !ok {
		return
	}
	if !m.scheduler.ScheduleReview(review.Request{Record: rec, Kind: kind}) {
		log.Printf("[LIFECYCLE] Review queue full, dropping %s review for %s", kind, id)
	}
}
