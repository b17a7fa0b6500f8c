// Package reconcile applies provider outcomes to generation tasks. Webhook
// deliveries, client polls and the sweeper all converge here.
package reconcile

import "nero/internal/domain"

// Effect is a side effect the engine must perform after a transition.
type Effect int

const (
	EffectMaterialize Effect = iota + 1
	EffectDebit
)

func (e Effect) String() string {
	switch e {
	case EffectMaterialize:
		return "materialize"
	case EffectDebit:
		return "debit"
	default:
		return "unknown"
	}
}

// Decision is the result of applying an outcome to a task status.
type Decision struct {
	Next        domain.TaskStatus
	Effects     []Effect
	ErrorDetail string
	// Changed is false when the task status stays as it was.
	Changed bool
}

// Has reports whether d requires effect e.
func (d Decision) Has(e Effect) bool {
	for _, got := range d.Effects {
		if got == e {
			return true
		}
	}
	return false
}

// Transition computes the next status for a task in current receiving
// outcome. It has no side effects; terminal states never move.
func Transition(current domain.TaskStatus, outcome domain.Outcome, costBearing bool) Decision {
	if current.Terminal() {
		return Decision{Next: current}
	}
	switch outcome.Kind {
	case domain.OutcomeRunning:
		if current == domain.TaskStatusPending {
			return Decision{Next: domain.TaskStatusProcessing, Changed: true}
		}
		return Decision{Next: current}
	case domain.OutcomeSucceeded:
		effects := []Effect{EffectMaterialize}
		if costBearing {
			effects = append(effects, EffectDebit)
		}
		return Decision{Next: domain.TaskStatusCompleted, Effects: effects, Changed: true}
	case domain.OutcomeFailedTransient, domain.OutcomeFailedTerminal:
		return Decision{Next: domain.TaskStatusFailed, ErrorDetail: outcome.Reason, Changed: true}
	default:
		return Decision{Next: current}
	}
}
