package models

import (
	"fmt"
	"strings"
	"time"
)

type DetectorType string

const (
	AntiRaid        DetectorType = "anti_raid"
	AntiSpam        DetectorType = "anti_spam"
	AntiAlt         DetectorType = "anti_alt"
	AntiMassMention DetectorType = "anti_mass_mention"
	AntiPattern     DetectorType = "anti_pattern"
	AntiMassPost    DetectorType = "anti_mass_post"
	AntiPostChannel DetectorType = "anti_post_channel"
)

var detectorTypes = []DetectorType{
	AntiRaid,
	AntiSpam,
	AntiAlt,
	AntiMassMention,
	AntiPattern,
	AntiMassPost,
	AntiPostChannel,
}

// DetectorTypes lists every detector in a stable order.
func DetectorTypes() []DetectorType {
	out := make([]DetectorType, len(detectorTypes))
	copy(out, detectorTypes)
	return out
}

func ParseDetectorType(value string) (DetectorType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	for _, t := range detectorTypes {
		if string(t) == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDetector, value)
}

// Detector is one guild-scoped abuse recognizer. Evaluate must be safe for
// concurrent use; events for the same subject are linearized internally.
type Detector interface {
	Type() DetectorType
	Handles(kind EventKind) bool
	Evaluate(event Event) []Violation
	// Config returns the active configuration. Callers must not mutate it.
	Config() DetectorConfig
	// Configure swaps the configuration atomically, keeping accumulated state.
	Configure(cfg DetectorConfig) error
	Stats(now time.Time) DetectorStats
	Sweep(now time.Time)
}

// OutcomeObserver is implemented by detectors that react to dispatch results.
type OutcomeObserver interface {
	Observe(result DispatchResult)
}

type DetectorStats struct {
	Violations  uint64
	Subjects    int
	Entries     int
	RaidActive  bool
	RaidMembers []string
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
