package models

import "time"

type EventKind uint8

const (
	EventJoin EventKind = iota + 1
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a platform-neutral guild event. Join-only and message-only fields
// are left zero for the other kind.
type Event struct {
	Kind    EventKind
	GuildID string
	UserID  string
	At      time.Time
	Bot     bool
	Roles   []string

	AccountCreatedAt time.Time
	Offline          bool

	MessageID string
	ChannelID string
	Content   string
	Mentions  int
}

func (e Event) HasRole(set map[string]struct{}) bool {
	for _, role := range e.Roles {
		if _, ok := set[role]; ok {
			return true
		}
	}
	return false
}
