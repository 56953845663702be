package antipostchannel

import (
	"testing"
	"time"

	"sentinel-guard/internal/models"
)

func message(user, channel string, roles ...string) models.Event {
	return models.Event{Kind: models.EventMessage, GuildID: "g1", UserID: user, ChannelID: channel, Roles: roles, At: time.Unix(1000, 0), Content: "hi"}
}

func newModule() *Module {
	cfg := models.DefaultPostChannelConfig()
	cfg.Channels = []string{"trap"}
	cfg.IgnoredRoles = []string{"mod"}
	cfg.IgnoredUsers = []string{"owner"}
	return New("g1", cfg)
}

func TestHoneypotPostTriggers(t *testing.T) {
	module := newModule()
	got := module.Evaluate(message("u1", "trap"))
	if len(got) != 1 || got[0].Action.Kind != models.ActionBan {
		t.Fatalf("expected ban violation, got %+v", got)
	}
	if got := module.Evaluate(message("u1", "general")); len(got) != 0 {
		t.Fatalf("regular channel should not trigger")
	}
}

func TestHoneypotExemptions(t *testing.T) {
	module := newModule()
	if got := module.Evaluate(message("owner", "trap")); len(got) != 0 {
		t.Fatalf("ignored user should not trigger")
	}
	if got := module.Evaluate(message("u2", "trap", "member", "mod")); len(got) != 0 {
		t.Fatalf("ignored role should not trigger")
	}
	bot := message("b1", "trap")
	bot.Bot = true
	if got := module.Evaluate(bot); len(got) != 0 {
		t.Fatalf("bot should not trigger")
	}
}

func TestHoneypotListEditsApplyOnConfigure(t *testing.T) {
	module := newModule()
	cfg := module.Config().Clone().(*models.PostChannelConfig)
	if !cfg.Edit(models.HoneypotChannels, "trap2", true) {
		t.Fatalf("expected channel to be added")
	}
	if !cfg.Edit(models.IgnoredUsers, "owner", false) {
		t.Fatalf("expected user to be removed")
	}
	if err := module.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := module.Evaluate(message("owner", "trap2")); len(got) != 1 {
		t.Fatalf("expected edited lists to apply")
	}
	if stats := module.Stats(time.Unix(1000, 0)); stats.Violations != 1 || stats.Subjects != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
