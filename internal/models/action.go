package models

import (
	"fmt"
	"strings"
	"time"
)

type ActionKind uint8

const (
	ActionKick ActionKind = iota + 1
	ActionBan
	ActionMute
	ActionAddRole
	ActionSoftban
)

func (k ActionKind) String() string {
	switch k {
	case ActionKick:
		return "kick"
	case ActionBan:
		return "ban"
	case ActionMute:
		return "mute"
	case ActionAddRole:
		return "add_role"
	case ActionSoftban:
		return "softban"
	default:
		return "unknown"
	}
}

func (k ActionKind) Valid() bool {
	return k >= ActionKick && k <= ActionSoftban
}

func ParseActionKind(value string) (ActionKind, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_") {
	case "kick":
		return ActionKick, nil
	case "ban":
		return ActionBan, nil
	case "mute", "timeout":
		return ActionMute, nil
	case "add_role", "addrole", "role":
		return ActionAddRole, nil
	case "softban":
		return ActionSoftban, nil
	default:
		return 0, fmt.Errorf("%w: unknown action %q", ErrConfigurationRejected, value)
	}
}

func (k ActionKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid action kind %d", k)
	}
	return []byte(k.String()), nil
}

func (k *ActionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseActionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// PunishmentAction is the tagged punishment variant handed to the executor.
// Duration is meaningful for mute and temporary bans; RoleID only for add_role.
type PunishmentAction struct {
	Kind     ActionKind
	Duration time.Duration
	RoleID   string
}

func Kick() PunishmentAction { return PunishmentAction{Kind: ActionKick} }

func Ban(d time.Duration) PunishmentAction { return PunishmentAction{Kind: ActionBan, Duration: d} }

func Mute(d time.Duration) PunishmentAction { return PunishmentAction{Kind: ActionMute, Duration: d} }

func AddRole(roleID string) PunishmentAction { return PunishmentAction{Kind: ActionAddRole, RoleID: roleID} }

func Softban() PunishmentAction { return PunishmentAction{Kind: ActionSoftban} }

// NewAction builds an action from configuration values.
func NewAction(kind ActionKind, minutes int, roleID string) PunishmentAction {
	d := time.Duration(minutes) * time.Minute
	switch kind {
	case ActionKick:
		return Kick()
	case ActionBan:
		return Ban(d)
	case ActionMute:
		return Mute(d)
	case ActionAddRole:
		action := AddRole(roleID)
		action.Duration = d
		return action
	case ActionSoftban:
		return Softban()
	default:
		return PunishmentAction{Kind: kind, Duration: d, RoleID: roleID}
	}
}

func (a PunishmentAction) String() string {
	switch {
	case a.Kind == ActionAddRole:
		return fmt.Sprintf("add_role(%s)", a.RoleID)
	case a.Duration > 0:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Duration)
	default:
		return a.Kind.String()
	}
}
