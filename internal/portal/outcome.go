// internal/portal/outcome.go
package portal

import "fmt"

// OutcomeKind tags a LoginOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeFailed
	OutcomeTimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// LoginOutcome is the resolved result of one login attempt. Message is set
// only for OutcomeFailed and is never empty there.
type LoginOutcome struct {
	Kind    OutcomeKind
	Message string
}

func Success() LoginOutcome { return LoginOutcome{Kind: OutcomeSuccess} }

func Failed(message string) LoginOutcome {
	if message == "" {
		message = emptyToastMessage
	}
	return LoginOutcome{Kind: OutcomeFailed, Message: message}
}

func TimedOut() LoginOutcome { return LoginOutcome{Kind: OutcomeTimedOut} }

func (o LoginOutcome) String() string {
	if o.Kind == OutcomeFailed {
		return fmt.Sprintf("%s(%s)", o.Kind, o.Message)
	}
	return o.Kind.String()
}
