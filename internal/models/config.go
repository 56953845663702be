package models

import (
	"fmt"
	"slices"
)

// DetectorConfig is the immutable-until-reconfigured settings value of one
// detector. Implementations are pointers to the structs below.
type DetectorConfig interface {
	DetectorType() DetectorType
	Punishment() PunishmentAction
	Clone() DetectorConfig
}

type RaidConfig struct {
	UserThreshold  int        `yaml:"user_threshold" validate:"min=2,max=30"`
	Seconds        int        `yaml:"seconds" validate:"min=2,max=300"`
	Action         ActionKind `yaml:"action" validate:"punishaction,raidaction"`
	PunishDuration int        `yaml:"punish_duration" validate:"min=0,max=1440"`
	RoleID         string     `yaml:"role_id"`
}

func DefaultRaidConfig() *RaidConfig {
	return &RaidConfig{UserThreshold: 6, Seconds: 10, Action: ActionKick}
}

func (c *RaidConfig) DetectorType() DetectorType { return AntiRaid }

func (c *RaidConfig) Punishment() PunishmentAction {
	return NewAction(c.Action, c.PunishDuration, c.RoleID)
}

func (c *RaidConfig) Clone() DetectorConfig {
	clone := *c
	return &clone
}

type SpamConfig struct {
	MessageThreshold int        `yaml:"message_threshold" validate:"min=2,max=10"`
	WindowSeconds    int        `yaml:"window_seconds" validate:"min=1,max=60"`
	Action           ActionKind `yaml:"action" validate:"punishaction"`
	MuteTime         int        `yaml:"mute_time" validate:"min=0,max=1440"`
	RoleID           string     `yaml:"role_id"`
	IgnoredChannels  []string   `yaml:"ignored_channels"`
	IgnoreBots       bool       `yaml:"ignore_bots"`
}

func DefaultSpamConfig() *SpamConfig {
	return &SpamConfig{MessageThreshold: 6, WindowSeconds: 5, Action: ActionMute, MuteTime: 10, IgnoreBots: true}
}

func (c *SpamConfig) DetectorType() DetectorType { return AntiSpam }

func (c *SpamConfig) Punishment() PunishmentAction {
	return NewAction(c.Action, c.MuteTime, c.RoleID)
}

func (c *SpamConfig) Clone() DetectorConfig {
	clone := *c
	clone.IgnoredChannels = slices.Clone(c.IgnoredChannels)
	return &clone
}

type AltConfig struct {
	MinAgeMinutes  int        `yaml:"min_age_minutes" validate:"min=1,max=525600"`
	Action         ActionKind `yaml:"action" validate:"punishaction"`
	ActionDuration int        `yaml:"action_duration" validate:"min=0,max=1440"`
	RoleID         string     `yaml:"role_id"`
}

func DefaultAltConfig() *AltConfig {
	return &AltConfig{MinAgeMinutes: 7 * 24 * 60, Action: ActionKick}
}

func (c *AltConfig) DetectorType() DetectorType { return AntiAlt }

func (c *AltConfig) Punishment() PunishmentAction {
	return NewAction(c.Action, c.ActionDuration, c.RoleID)
}

func (c *AltConfig) Clone() DetectorConfig {
	clone := *c
	return &clone
}

type MassMentionConfig struct {
	MentionThreshold        int        `yaml:"mention_threshold" validate:"min=1"`
	MaxMentionsInTimeWindow int        `yaml:"max_mentions_in_time_window" validate:"min=1"`
	TimeWindowSeconds       int        `yaml:"time_window_seconds" validate:"min=1,max=600"`
	Action                  ActionKind `yaml:"action" validate:"punishaction"`
	MuteTime                int        `yaml:"mute_time" validate:"min=0,max=1440"`
	RoleID                  string     `yaml:"role_id"`
	IgnoreBots              bool       `yaml:"ignore_bots"`
}

func DefaultMassMentionConfig() *MassMentionConfig {
	return &MassMentionConfig{
		MentionThreshold:        10,
		MaxMentionsInTimeWindow: 5,
		TimeWindowSeconds:       10,
		Action:                  ActionMute,
		MuteTime:                10,
		IgnoreBots:              true,
	}
}

func (c *MassMentionConfig) DetectorType() DetectorType { return AntiMassMention }

func (c *MassMentionConfig) Punishment() PunishmentAction {
	return NewAction(c.Action, c.MuteTime, c.RoleID)
}

func (c *MassMentionConfig) Clone() DetectorConfig {
	clone := *c
	return &clone
}

type PatternConfig struct {
	MinimumScore       int        `yaml:"minimum_score" validate:"min=1,max=9"`
	CheckAccountAge    bool       `yaml:"check_account_age"`
	CheckJoinTiming    bool       `yaml:"check_join_timing"`
	CheckBatchCreation bool       `yaml:"check_batch_creation"`
	CheckOfflineStatus bool       `yaml:"check_offline_status"`
	CheckNewAccounts   bool       `yaml:"check_new_accounts"`
	Action             ActionKind `yaml:"action" validate:"punishaction"`
	PunishDuration     int        `yaml:"punish_duration" validate:"min=0,max=1440"`
	RoleID             string     `yaml:"role_id"`
}

func DefaultPatternConfig() *PatternConfig {
	return &PatternConfig{
		MinimumScore:       4,
		CheckAccountAge:    true,
		CheckJoinTiming:    true,
		CheckBatchCreation: true,
		CheckOfflineStatus: true,
		CheckNewAccounts:   true,
		Action:             ActionKick,
	}
}

func (c *PatternConfig) DetectorType() DetectorType { return AntiPattern }

func (c *PatternConfig) Punishment() PunishmentAction {
	return NewAction(c.Action, c.PunishDuration, c.RoleID)
}

func (c *PatternConfig) Clone() DetectorConfig {
	clone := *c
	return &clone
}

type MassPostConfig struct {
	ChannelThreshold           int        `yaml:"channel_threshold" validate:"min=2,max=20"`
	TimeWindowSeconds          int        `yaml:"time_window_seconds" validate:"min=10,max=600"`
	CheckDuplicateContent      bool       `yaml:"check_duplicate_content"`
	ContentSimilarityThreshold float64    `yaml:"content_similarity_threshold" validate:"min=0,max=1"`
	RequireIdenticalContent    bool       `yaml:"require_identical_content"`
	MinContentLength           int        `yaml:"min_content_length" validate:"min=0"`
	CheckLinksOnly             bool       `yaml:"check_links_only"`
	CaseSensitive              bool       `yaml:"case_sensitive"`
	MaxMessagesTracked         int        `yaml:"max_messages_tracked" validate:"min=1,max=200"`
	IgnoreBots                 bool       `yaml:"ignore_bots"`
	Action                     ActionKind `yaml:"action" validate:"punishaction"`
	PunishDuration             int        `yaml:"punish_duration" validate:"min=0,max=1440"`
	RoleID                     string     `yaml:"role_id"`
}

func DefaultMassPostConfig() *MassPostConfig {
	return &MassPostConfig{
		ChannelThreshold:           3,
		TimeWindowSeconds:          60,
		CheckDuplicateContent:      true,
		ContentSimilarityThreshold: 0.8,
		MinContentLength:           10,
		MaxMessagesTracked:         25,
		IgnoreBots:                 true,
		Action:                     ActionMute,
		PunishDuration:             60,
	}
}

func (c *MassPostConfig) DetectorType() DetectorType { return AntiMassPost }

func (c *MassPostConfig) Punishment() PunishmentAction {
	return NewAction(c.Action, c.PunishDuration, c.RoleID)
}

func (c *MassPostConfig) Clone() DetectorConfig {
	clone := *c
	return &clone
}

type PostChannelConfig struct {
	Channels       []string   `yaml:"channels"`
	IgnoredRoles   []string   `yaml:"ignored_roles"`
	IgnoredUsers   []string   `yaml:"ignored_users"`
	IgnoreBots     bool       `yaml:"ignore_bots"`
	Action         ActionKind `yaml:"action" validate:"punishaction"`
	PunishDuration int        `yaml:"punish_duration" validate:"min=0,max=1440"`
	RoleID         string     `yaml:"role_id"`
}

func DefaultPostChannelConfig() *PostChannelConfig {
	return &PostChannelConfig{IgnoreBots: true, Action: ActionBan}
}

func (c *PostChannelConfig) DetectorType() DetectorType { return AntiPostChannel }

func (c *PostChannelConfig) Punishment() PunishmentAction {
	return NewAction(c.Action, c.PunishDuration, c.RoleID)
}

func (c *PostChannelConfig) Clone() DetectorConfig {
	clone := *c
	clone.Channels = slices.Clone(c.Channels)
	clone.IgnoredRoles = slices.Clone(c.IgnoredRoles)
	clone.IgnoredUsers = slices.Clone(c.IgnoredUsers)
	return &clone
}

// ListField names one of the independently addressable post-channel lists.
type ListField uint8

const (
	HoneypotChannels ListField = iota + 1
	IgnoredRoles
	IgnoredUsers
)

func (f ListField) String() string {
	switch f {
	case HoneypotChannels:
		return "channels"
	case IgnoredRoles:
		return "ignored_roles"
	case IgnoredUsers:
		return "ignored_users"
	default:
		return "unknown"
	}
}

// Edit adds or removes id from the named list and reports whether it changed.
func (c *PostChannelConfig) Edit(field ListField, id string, add bool) bool {
	var list *[]string
	switch field {
	case HoneypotChannels:
		list = &c.Channels
	case IgnoredRoles:
		list = &c.IgnoredRoles
	case IgnoredUsers:
		list = &c.IgnoredUsers
	default:
		return false
	}
	idx := slices.Index(*list, id)
	if add {
		if idx >= 0 || id == "" {
			return false
		}
		*list = append(*list, id)
		return true
	}
	if idx < 0 {
		return false
	}
	*list = slices.Delete(*list, idx, idx+1)
	return true
}

// DefaultConfig returns a fresh default configuration for t.
func DefaultConfig(t DetectorType) (DetectorConfig, error) {
	switch t {
	case AntiRaid:
		return DefaultRaidConfig(), nil
	case AntiSpam:
		return DefaultSpamConfig(), nil
	case AntiAlt:
		return DefaultAltConfig(), nil
	case AntiMassMention:
		return DefaultMassMentionConfig(), nil
	case AntiPattern:
		return DefaultPatternConfig(), nil
	case AntiMassPost:
		return DefaultMassPostConfig(), nil
	case AntiPostChannel:
		return DefaultPostChannelConfig(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDetector, t)
	}
}

// StringSet builds a lookup set from ids.
func StringSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
