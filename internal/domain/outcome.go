package domain

import "fmt"

// OutcomeKind tags the normalized provider result.
type OutcomeKind int

const (
	OutcomeRunning OutcomeKind = iota
	OutcomeSucceeded
	OutcomeFailedTransient
	OutcomeFailedTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRunning:
		return "running"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailedTransient:
		return "failed_transient"
	case OutcomeFailedTerminal:
		return "failed_terminal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is a provider status normalized into one of four variants.
// ResultURL and SecondaryURLs are set only for OutcomeSucceeded, Reason only
// for the failure variants.
type Outcome struct {
	Kind          OutcomeKind
	ResultURL     string
	SecondaryURLs []string
	Reason        string
}

func StillRunning() Outcome { return Outcome{Kind: OutcomeRunning} }

func Succeeded(resultURL string, secondary ...string) Outcome {
	return Outcome{Kind: OutcomeSucceeded, ResultURL: resultURL, SecondaryURLs: secondary}
}

func FailedTransient(reason string) Outcome {
	return Outcome{Kind: OutcomeFailedTransient, Reason: reason}
}

func FailedTerminal(reason string) Outcome {
	return Outcome{Kind: OutcomeFailedTerminal, Reason: reason}
}

// Failed reports whether the outcome is either failure variant.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailedTransient || o.Kind == OutcomeFailedTerminal
}

// URLs returns the primary result followed by secondary results.
func (o Outcome) URLs() []string {
	if o.ResultURL == "" {
		return append([]string(nil), o.SecondaryURLs...)
	}
	return append([]string{o.ResultURL}, o.SecondaryURLs...)
}
