package antispam

import (
	"testing"
	"time"

	"sentinel-guard/internal/models"
)

func message(user, channel string, at time.Time) models.Event {
	return models.Event{Kind: models.EventMessage, GuildID: "g1", UserID: user, ChannelID: channel, At: at, Content: "hello"}
}

func TestAntiSpamThresholdBoundary(t *testing.T) {
	cfg := models.DefaultSpamConfig()
	cfg.MessageThreshold = 3
	cfg.WindowSeconds = 5
	module := New("g1", cfg)
	base := time.Unix(1000, 0)

	for i := 0; i < 2; i++ {
		if got := module.Evaluate(message("u1", "c1", base.Add(time.Duration(i)*time.Second))); len(got) != 0 {
			t.Fatalf("unexpected flag at message %d", i+1)
		}
	}
	if count := module.Count("u1", base.Add(2*time.Second)); count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	got := module.Evaluate(message("u1", "c1", base.Add(2*time.Second)))
	if len(got) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(got))
	}
	if got[0].Action.Kind != models.ActionMute || got[0].Action.Duration != 10*time.Minute {
		t.Fatalf("unexpected action %s", got[0].Action)
	}
}

func TestAntiSpamWindowExpiry(t *testing.T) {
	cfg := models.DefaultSpamConfig()
	cfg.MessageThreshold = 2
	cfg.WindowSeconds = 2
	module := New("g1", cfg)
	base := time.Unix(1000, 0)
	module.Evaluate(message("u1", "c1", base))
	if got := module.Evaluate(message("u1", "c1", base.Add(3*time.Second))); len(got) != 0 {
		t.Fatalf("expected expired message not to count")
	}
}

func TestAntiSpamIgnoredChannel(t *testing.T) {
	cfg := models.DefaultSpamConfig()
	cfg.MessageThreshold = 2
	cfg.IgnoredChannels = []string{"memes"}
	module := New("g1", cfg)
	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		if got := module.Evaluate(message("u1", "memes", base)); len(got) != 0 {
			t.Fatalf("ignored channel should not trigger")
		}
	}
	if count := module.Count("u1", base); count != 0 {
		t.Fatalf("ignored channel should not update the counter, got %d", count)
	}
}

func TestAntiSpamIgnoresBots(t *testing.T) {
	cfg := models.DefaultSpamConfig()
	cfg.MessageThreshold = 2
	module := New("g1", cfg)
	base := time.Unix(1000, 0)
	event := message("bot", "c1", base)
	event.Bot = true
	module.Evaluate(event)
	if got := module.Evaluate(event); len(got) != 0 {
		t.Fatalf("bot messages should be ignored")
	}
}

func TestAntiSpamConfigurePreservesCounters(t *testing.T) {
	cfg := models.DefaultSpamConfig()
	cfg.MessageThreshold = 5
	module := New("g1", cfg)
	base := time.Unix(1000, 0)
	module.Evaluate(message("u1", "c1", base))
	module.Evaluate(message("u1", "c1", base))

	next := models.DefaultSpamConfig()
	next.MessageThreshold = 3
	if err := module.Configure(next); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := module.Evaluate(message("u1", "c1", base)); len(got) != 1 {
		t.Fatalf("expected preserved counter to reach new threshold, got %d", len(got))
	}
	stats := module.Stats(base)
	if stats.Violations != 1 || stats.Subjects != 1 || stats.Entries != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
