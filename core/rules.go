package core

import "context"

// Rule determines whether a trigger event should emit derived events.
type Rule interface {
	Evaluate(ctx context.Context, trigger Event) []Event
}

// MatchOutcomeRule credits the winner of a duel with a win and the loser
// with a loss.
type MatchOutcomeRule struct{}

func (MatchOutcomeRule) Evaluate(_ context.Context, trigger Event) []Event {
	if trigger.Type != EventMatchRecorded || trigger.UserID == "" || trigger.Opponent == "" {
		return nil
	}
	return []Event{
		NewCounterChanged(trigger.UserID, CounterWins, 1, 0),
		NewCounterChanged(trigger.Opponent, CounterLosses, 1, 0),
	}
}
