package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentinel-guard/internal/models"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type recordingExecutor struct {
	calls atomic.Int32
	fail  atomic.Bool
	delay time.Duration
}

func (r *recordingExecutor) Apply(ctx context.Context, guildID, userID string, action models.PunishmentAction) error {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail.Load() {
		return errors.New("missing permissions")
	}
	return nil
}

func liveReceipt(d *Dispatcher, guildID string, detector models.DetectorType, userID string) bool {
	live := false
	d.guilds.With(guildID, nil, func(g *guildState) {
		g.mu.Lock()
		defer g.mu.Unlock()
		r, ok := g.receipts.Peek(receiptKey(detector, userID))
		live = ok && d.clock.Now().Before(r.ExpiresAt)
	})
	return live
}

func newDispatcher(executor Executor) (*Dispatcher, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	d := New(DefaultConfig(), executor, zap.NewNop(), nil)
	d.WithClock(clock)
	return d, clock
}

func violation(user string, action models.PunishmentAction) models.Violation {
	return models.NewViolation("g1", models.AntiSpam, user, action, "test", time.Unix(1000, 0))
}

func TestDispatchIdempotent(t *testing.T) {
	executor := &recordingExecutor{}
	d, _ := newDispatcher(executor)

	first := d.Dispatch(context.Background(), violation("u1", models.Mute(10*time.Minute)))
	second := d.Dispatch(context.Background(), violation("u1", models.Mute(10*time.Minute)))
	if first.Outcome != models.OutcomeApplied {
		t.Fatalf("expected applied, got %s", first.Outcome)
	}
	if second.Outcome != models.OutcomeSkippedDuplicate {
		t.Fatalf("expected skipped_duplicate, got %s", second.Outcome)
	}
	if executor.calls.Load() != 1 {
		t.Fatalf("expected executor called once, got %d", executor.calls.Load())
	}
	if !liveReceipt(d, "g1", models.AntiSpam, "u1") {
		t.Fatalf("expected live receipt")
	}
}

func TestReceiptExpiry(t *testing.T) {
	executor := &recordingExecutor{}
	d, clock := newDispatcher(executor)

	d.Dispatch(context.Background(), violation("u1", models.Mute(10*time.Minute)))
	clock.Advance(10 * time.Minute)
	if got := d.Dispatch(context.Background(), violation("u1", models.Mute(10*time.Minute))); got.Outcome != models.OutcomeApplied {
		t.Fatalf("expected re-application after expiry, got %s", got.Outcome)
	}

	d.Dispatch(context.Background(), violation("u2", models.Kick()))
	clock.Advance(4 * time.Minute)
	if got := d.Dispatch(context.Background(), violation("u2", models.Kick())); got.Outcome != models.OutcomeSkippedDuplicate {
		t.Fatalf("instant action should use the minimum cooldown, got %s", got.Outcome)
	}
	clock.Advance(time.Minute)
	if got := d.Dispatch(context.Background(), violation("u2", models.Kick())); got.Outcome != models.OutcomeApplied {
		t.Fatalf("expected applied after cooldown, got %s", got.Outcome)
	}
}

func TestFailureWritesNoReceipt(t *testing.T) {
	executor := &recordingExecutor{}
	executor.fail.Store(true)
	d, _ := newDispatcher(executor)

	result := d.Dispatch(context.Background(), violation("u1", models.Ban(0)))
	if result.Outcome != models.OutcomeFailed || !errors.Is(result.Err, models.ErrExternalActionFailed) {
		t.Fatalf("expected failed outcome, got %s (%v)", result.Outcome, result.Err)
	}
	executor.fail.Store(false)
	if retry := d.Dispatch(context.Background(), violation("u1", models.Ban(0))); retry.Outcome != models.OutcomeApplied {
		t.Fatalf("expected retry to apply, got %s", retry.Outcome)
	}
}

func TestConcurrentDuplicatesApplyOnce(t *testing.T) {
	executor := &recordingExecutor{delay: 20 * time.Millisecond}
	d, _ := newDispatcher(executor)

	violations := make([]models.Violation, 10)
	for i := range violations {
		violations[i] = violation("u1", models.Kick())
	}
	results := d.DispatchAll(context.Background(), violations)

	applied, skipped := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case models.OutcomeApplied:
			applied++
		case models.OutcomeSkippedDuplicate:
			skipped++
		}
	}
	if applied != 1 || skipped != 9 {
		t.Fatalf("expected 1 applied and 9 skipped, got %d and %d", applied, skipped)
	}
	if executor.calls.Load() != 1 {
		t.Fatalf("expected one executor call, got %d", executor.calls.Load())
	}
}

func TestSubjectsAreIndependent(t *testing.T) {
	executor := &recordingExecutor{}
	d, _ := newDispatcher(executor)
	results := d.DispatchAll(context.Background(), []models.Violation{
		violation("u1", models.Kick()),
		violation("u2", models.Kick()),
		violation("u3", models.Kick()),
	})
	for i, r := range results {
		if r.Outcome != models.OutcomeApplied {
			t.Fatalf("result %d: expected applied, got %s", i, r.Outcome)
		}
		if want := []string{"u1", "u2", "u3"}[i]; r.Violation.UserID != want {
			t.Fatalf("results out of order")
		}
	}

	other := models.NewViolation("g1", models.AntiRaid, "u1", models.Kick(), "test", time.Unix(1000, 0))
	if r := d.Dispatch(context.Background(), other); r.Outcome != models.OutcomeApplied {
		t.Fatalf("receipts are scoped by detector, got %s", r.Outcome)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	executor := &recordingExecutor{}
	executor.fail.Store(true)
	cfg := DefaultConfig()
	cfg.Breaker.MinRequests = 3
	cfg.Breaker.FailureRatio = 0.5
	d := New(cfg, executor, zap.NewNop(), nil)

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), violation("u1", models.Kick()))
	}
	calls := executor.calls.Load()
	result := d.Dispatch(context.Background(), violation("u1", models.Kick()))
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("expected failed while breaker open, got %s", result.Outcome)
	}
	if executor.calls.Load() != calls {
		t.Fatalf("expected open breaker to short-circuit the executor")
	}
}

func TestNilExecutorFails(t *testing.T) {
	d, _ := newDispatcher(nil)
	if r := d.Dispatch(context.Background(), violation("u1", models.Kick())); r.Outcome != models.OutcomeFailed {
		t.Fatalf("expected failure without executor, got %s", r.Outcome)
	}
}

func TestGuildsDoNotShareBreaker(t *testing.T) {
	failing := &recordingExecutor{}
	failing.fail.Store(true)
	healthy := &recordingExecutor{}
	executor := ExecutorFunc(func(ctx context.Context, guildID, userID string, action models.PunishmentAction) error {
		if guildID == "bad" {
			return failing.Apply(ctx, guildID, userID, action)
		}
		return healthy.Apply(ctx, guildID, userID, action)
	})
	d, _ := newDispatcher(executor)

	for i := 0; i < 10; i++ {
		v := models.NewViolation("bad", models.AntiRaid, fmt.Sprintf("u%d", i), models.Kick(), "test", time.Unix(1000, 0))
		d.Dispatch(context.Background(), v)
	}
	tripped := d.Dispatch(context.Background(), models.NewViolation("bad", models.AntiRaid, "u99", models.Kick(), "test", time.Unix(1000, 0)))
	if tripped.Outcome != models.OutcomeFailed || failing.calls.Load() != 10 {
		t.Fatalf("expected the failing guild's breaker to be open, got %s after %d calls", tripped.Outcome, failing.calls.Load())
	}

	good := d.Dispatch(context.Background(), models.NewViolation("good", models.AntiRaid, "u1", models.Kick(), "test", time.Unix(1000, 0)))
	if good.Outcome != models.OutcomeApplied {
		t.Fatalf("expected applied in the healthy guild, got %s (%v)", good.Outcome, good.Err)
	}
	if healthy.calls.Load() != 1 {
		t.Fatalf("expected the healthy guild executor to run once, got %d", healthy.calls.Load())
	}
}

func TestReceiptsAreScopedByGuild(t *testing.T) {
	executor := &recordingExecutor{}
	d, _ := newDispatcher(executor)
	d.Dispatch(context.Background(), violation("u1", models.Kick()))
	other := models.NewViolation("g2", models.AntiSpam, "u1", models.Kick(), "test", time.Unix(1000, 0))
	if r := d.Dispatch(context.Background(), other); r.Outcome != models.OutcomeApplied {
		t.Fatalf("expected applied in another guild, got %s", r.Outcome)
	}
	if liveReceipt(d, "g3", models.AntiSpam, "u1") {
		t.Fatalf("expected no receipt for an unknown guild")
	}
}

func TestLongCooldownOutlivesADay(t *testing.T) {
	executor := &recordingExecutor{}
	cfg := DefaultConfig()
	cfg.MinCooldown = 48 * time.Hour
	clock := &fakeClock{now: time.Unix(1000, 0)}
	d := New(cfg, executor, zap.NewNop(), nil)
	d.WithClock(clock)

	d.Dispatch(context.Background(), violation("u1", models.Kick()))
	clock.Advance(30 * time.Hour)
	d.Sweep()
	if r := d.Dispatch(context.Background(), violation("u1", models.Kick())); r.Outcome != models.OutcomeSkippedDuplicate {
		t.Fatalf("expected receipt to hold for 48h, got %s", r.Outcome)
	}
	clock.Advance(18 * time.Hour)
	if r := d.Dispatch(context.Background(), violation("u1", models.Kick())); r.Outcome != models.OutcomeApplied {
		t.Fatalf("expected applied once the cooldown ended, got %s", r.Outcome)
	}
}

func TestSweepDropsExpiredReceipts(t *testing.T) {
	executor := &recordingExecutor{}
	d, clock := newDispatcher(executor)
	d.Dispatch(context.Background(), violation("u1", models.Mute(10*time.Minute)))
	d.Dispatch(context.Background(), violation("u2", models.Mute(time.Hour)))

	clock.Advance(10 * time.Minute)
	if removed := d.Sweep(); removed != 1 {
		t.Fatalf("expected 1 expired receipt removed, got %d", removed)
	}
	if d.guilds.Len() != 1 {
		t.Fatalf("expected guild kept while a receipt is live, got %d", d.guilds.Len())
	}
	clock.Advance(time.Hour)
	if removed := d.Sweep(); removed != 1 {
		t.Fatalf("expected 1 expired receipt removed, got %d", removed)
	}
	if d.guilds.Len() != 0 {
		t.Fatalf("expected idle guild forgotten, got %d", d.guilds.Len())
	}
}

func TestSweepKeepsOpenBreaker(t *testing.T) {
	executor := &recordingExecutor{}
	executor.fail.Store(true)
	cfg := DefaultConfig()
	cfg.Breaker.MinRequests = 2
	d := New(cfg, executor, zap.NewNop(), nil)
	d.Dispatch(context.Background(), violation("u1", models.Kick()))
	d.Dispatch(context.Background(), violation("u2", models.Kick()))
	d.Sweep()
	if d.guilds.Len() != 1 {
		t.Fatalf("expected guild with an open breaker to be kept, got %d", d.guilds.Len())
	}
}
