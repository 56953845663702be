package risk

import "testing"

var allChecks = Checks{AccountAge: true, NewAccount: true, JoinTiming: true, BatchCreation: true, Offline: true}

func TestScoreSumsEnabledSignals(t *testing.T) {
	evaluator := NewEvaluator(nil)
	result := evaluator.Score(allChecks, Signals{SignalAccountAge: true, SignalNewAccount: true, SignalOffline: true})
	if result.Score != 4 {
		t.Fatalf("expected 4, got %d", result.Score)
	}
	if !result.Passes(4) || result.Passes(5) {
		t.Fatalf("unexpected pass result for score %d", result.Score)
	}
	if result.String() != "account_age,new_account,offline" {
		t.Fatalf("unexpected matched signals %q", result.String())
	}
}

func TestScoreIgnoresDisabledChecks(t *testing.T) {
	evaluator := NewEvaluator(nil)
	checks := allChecks
	checks.BatchCreation = false
	result := evaluator.Score(checks, Signals{SignalBatchCreation: true, SignalJoinTiming: true})
	if result.Score != 2 {
		t.Fatalf("expected 2, got %d", result.Score)
	}
}

func TestMaxScore(t *testing.T) {
	evaluator := NewEvaluator(nil)
	if got := evaluator.MaxScore(allChecks); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
	if got := evaluator.MaxScore(Checks{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestScoreDeterministic(t *testing.T) {
	evaluator := NewEvaluator(map[Signal]int{SignalOffline: 5})
	signals := Signals{SignalOffline: true, SignalAccountAge: true}
	first := evaluator.Score(allChecks, signals)
	for i := 0; i < 10; i++ {
		if again := evaluator.Score(allChecks, signals); again.Score != first.Score || again.String() != first.String() {
			t.Fatalf("expected stable result, got %v vs %v", again, first)
		}
	}
	if first.Score != 5 {
		t.Fatalf("expected custom weight 5, got %d", first.Score)
	}
}
