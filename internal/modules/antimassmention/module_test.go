package antimassmention

import (
	"testing"
	"time"

	"sentinel-guard/internal/models"
)

func mentions(n int, at time.Time) models.Event {
	return models.Event{Kind: models.EventMessage, GuildID: "g1", UserID: "u1", ChannelID: "c1", At: at, Mentions: n}
}

func newModule() *Module {
	cfg := models.DefaultMassMentionConfig()
	cfg.MaxMentionsInTimeWindow = 5
	cfg.MentionThreshold = 8
	cfg.TimeWindowSeconds = 10
	return New("g1", cfg)
}

func TestSingleMessageLimit(t *testing.T) {
	module := newModule()
	base := time.Unix(1000, 0)
	if got := module.Evaluate(mentions(4, base)); len(got) != 0 {
		t.Fatalf("4 mentions should not trigger")
	}
	if got := module.Evaluate(mentions(5, base.Add(20*time.Second))); len(got) != 1 {
		t.Fatalf("5 mentions in one message should trigger")
	}
}

func TestWindowedTotal(t *testing.T) {
	module := newModule()
	base := time.Unix(1000, 0)
	module.Evaluate(mentions(3, base))
	module.Evaluate(mentions(4, base.Add(2*time.Second)))
	if got := module.Evaluate(mentions(1, base.Add(4*time.Second))); len(got) != 1 {
		t.Fatalf("expected windowed total of 8 to trigger")
	}
	if got := module.Evaluate(mentions(1, base.Add(30*time.Second))); len(got) != 0 {
		t.Fatalf("expected expired mentions not to count")
	}
}

func TestMentionIgnoresBotsAndZeroMentions(t *testing.T) {
	module := newModule()
	base := time.Unix(1000, 0)
	event := mentions(9, base)
	event.Bot = true
	if got := module.Evaluate(event); len(got) != 0 {
		t.Fatalf("bot message should be ignored")
	}
	if got := module.Evaluate(mentions(0, base)); len(got) != 0 {
		t.Fatalf("zero mentions should be ignored")
	}
	if stats := module.Stats(base); stats.Entries != 0 {
		t.Fatalf("ignored messages should not be tracked, got %d entries", stats.Entries)
	}
}
