package models

import (
	"time"

	"github.com/google/uuid"
)

// Violation is the immutable record a detector hands to the dispatcher. One
// violation names exactly one subject.
type Violation struct {
	ID       uuid.UUID
	GuildID  string
	Detector DetectorType
	UserID   string
	Action   PunishmentAction
	Evidence string
	At       time.Time
}

func NewViolation(guildID string, detector DetectorType, userID string, action PunishmentAction, evidence string, at time.Time) Violation {
	return Violation{
		ID:       uuid.New(),
		GuildID:  guildID,
		Detector: detector,
		UserID:   userID,
		Action:   action,
		Evidence: evidence,
		At:       at,
	}
}

type Outcome uint8

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeSkippedDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkippedDuplicate:
		return "skipped_duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type DispatchResult struct {
	Violation Violation
	Outcome   Outcome
	Err       error
	Duration  time.Duration
}
