package risk

import (
	"strings"

	"sentinel-guard/internal/models"
)

type Signal uint8

const (
	SignalAccountAge Signal = iota + 1
	SignalNewAccount
	SignalJoinTiming
	SignalBatchCreation
	SignalOffline
)

var signalOrder = []Signal{
	SignalAccountAge,
	SignalNewAccount,
	SignalJoinTiming,
	SignalBatchCreation,
	SignalOffline,
}

func (s Signal) String() string {
	switch s {
	case SignalAccountAge:
		return "account_age"
	case SignalNewAccount:
		return "new_account"
	case SignalJoinTiming:
		return "join_timing"
	case SignalBatchCreation:
		return "batch_creation"
	case SignalOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// DefaultWeights is the fixed contribution of each signal. The sum is the
// highest reachable score.
var DefaultWeights = map[Signal]int{
	SignalAccountAge:    1,
	SignalNewAccount:    2,
	SignalJoinTiming:    2,
	SignalBatchCreation: 3,
	SignalOffline:       1,
}

// Checks selects which signals may contribute.
type Checks struct {
	AccountAge    bool
	NewAccount    bool
	JoinTiming    bool
	BatchCreation bool
	Offline       bool
}

func PatternChecks(cfg *models.PatternConfig) Checks {
	return Checks{
		AccountAge:    cfg.CheckAccountAge,
		NewAccount:    cfg.CheckNewAccounts,
		JoinTiming:    cfg.CheckJoinTiming,
		BatchCreation: cfg.CheckBatchCreation,
		Offline:       cfg.CheckOfflineStatus,
	}
}

func (c Checks) enabled(s Signal) bool {
	switch s {
	case SignalAccountAge:
		return c.AccountAge
	case SignalNewAccount:
		return c.NewAccount
	case SignalJoinTiming:
		return c.JoinTiming
	case SignalBatchCreation:
		return c.BatchCreation
	case SignalOffline:
		return c.Offline
	default:
		return false
	}
}

// Signals is the set of heuristics that fired for one join.
type Signals map[Signal]bool

type Result struct {
	Score   int
	Matched []Signal
}

func (r Result) Passes(minimum int) bool {
	return r.Score >= minimum
}

func (r Result) String() string {
	names := make([]string, len(r.Matched))
	for i, s := range r.Matched {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}

type Evaluator struct {
	weights map[Signal]int
}

func NewEvaluator(weights map[Signal]int) *Evaluator {
	if weights == nil {
		weights = DefaultWeights
	}
	return &Evaluator{weights: weights}
}

// Score sums the weights of signals that both fired and are enabled.
func (e *Evaluator) Score(checks Checks, signals Signals) Result {
	var result Result
	for _, s := range signalOrder {
		if !checks.enabled(s) || !signals[s] {
			continue
		}
		result.Score += e.weights[s]
		result.Matched = append(result.Matched, s)
	}
	return result
}

// MaxScore is the score reached when every enabled signal fires.
func (e *Evaluator) MaxScore(checks Checks) int {
	total := 0
	for _, s := range signalOrder {
		if checks.enabled(s) {
			total += e.weights[s]
		}
	}
	return total
}
