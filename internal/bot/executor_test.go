package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sentinel-guard/internal/models"

	"go.uber.org/zap"
)

type fakeAPI struct {
	calls []string
	until *time.Time
	fail  error
}

func (f *fakeAPI) record(call string) error {
	f.calls = append(f.calls, call)
	return f.fail
}

func (f *fakeAPI) Kick(guildID, userID, _ string) error { return f.record("kick " + userID) }

func (f *fakeAPI) Ban(guildID, userID, _ string, purgeDays int) error {
	if purgeDays > 0 {
		return f.record("ban-purge " + userID)
	}
	return f.record("ban " + userID)
}

func (f *fakeAPI) Unban(guildID, userID string) error { return f.record("unban " + userID) }

func (f *fakeAPI) Timeout(guildID, userID string, until *time.Time) error {
	f.until = until
	return f.record("timeout " + userID)
}

func (f *fakeAPI) AddRole(guildID, userID, roleID string) error {
	return f.record("add-role " + userID + " " + roleID)
}

func (f *fakeAPI) RemoveRole(guildID, userID, roleID string) error {
	return f.record("remove-role " + userID + " " + roleID)
}

func newTestExecutor(api *fakeAPI) (*Executor, *[]func()) {
	x := newExecutor(api, zap.NewNop())
	now := time.Unix(1000, 0)
	x.now = func() time.Time { return now }
	var scheduled []func()
	x.after = func(_ time.Duration, fn func()) *time.Timer {
		scheduled = append(scheduled, fn)
		return nil
	}
	return x, &scheduled
}

func TestExecutorActions(t *testing.T) {
	api := &fakeAPI{}
	x, scheduled := newTestExecutor(api)
	ctx := context.Background()

	actions := []models.PunishmentAction{
		models.Kick(),
		models.Ban(0),
		models.Softban(),
		models.AddRole("jail"),
	}
	for _, action := range actions {
		if err := x.Apply(ctx, "g1", "u1", action); err != nil {
			t.Fatalf("apply %s: %v", action, err)
		}
	}
	want := "kick u1|ban u1|ban-purge u1|unban u1|add-role u1 jail"
	if got := strings.Join(api.calls, "|"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if len(*scheduled) != 0 {
		t.Fatalf("expected no scheduled reverts, got %d", len(*scheduled))
	}
}

func TestExecutorTimedBanIsReverted(t *testing.T) {
	api := &fakeAPI{}
	x, scheduled := newTestExecutor(api)
	if err := x.Apply(context.Background(), "g1", "u1", models.Ban(time.Hour)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(*scheduled) != 1 {
		t.Fatalf("expected one scheduled revert, got %d", len(*scheduled))
	}
	(*scheduled)[0]()
	if got := strings.Join(api.calls, "|"); got != "ban u1|unban u1" {
		t.Fatalf("unexpected calls %q", got)
	}
}

func TestExecutorMuteMinimum(t *testing.T) {
	api := &fakeAPI{}
	x, _ := newTestExecutor(api)
	if err := x.Apply(context.Background(), "g1", "u1", models.Mute(0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if api.until == nil || !api.until.Equal(time.Unix(1000, 0).Add(time.Minute)) {
		t.Fatalf("expected one minute timeout, got %v", api.until)
	}
	if err := x.Apply(context.Background(), "g1", "u1", models.Mute(10*time.Minute)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !api.until.Equal(time.Unix(1000, 0).Add(10 * time.Minute)) {
		t.Fatalf("expected ten minute timeout, got %v", api.until)
	}
}

func TestExecutorErrors(t *testing.T) {
	api := &fakeAPI{fail: errors.New("missing permissions")}
	x, scheduled := newTestExecutor(api)
	if err := x.Apply(context.Background(), "g1", "u1", models.Ban(time.Hour)); err == nil {
		t.Fatalf("expected ban error")
	}
	if len(*scheduled) != 0 {
		t.Fatalf("failed ban must not schedule an unban")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := x.Apply(ctx, "g1", "u1", models.Kick()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
