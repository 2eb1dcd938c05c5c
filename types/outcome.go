package types

import "fmt"

// Outcome classifies the result of a job or a single validation check.
// The integer values define the severity ordering: a job's final outcome
// is the maximum severity over everything recorded during the job.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomePassed
	OutcomeInspect
	OutcomeNotVerified
	OutcomeTimedOut
	OutcomeFailed
	OutcomeBlocked
	OutcomeDumpedCore
)

// outcomeTokens are the literal strings consumed by downstream report
// renderers. Do not change them.
var outcomeTokens = map[Outcome]string{
	OutcomeSkipped:     "SKIPPED",
	OutcomePassed:      "PASSED",
	OutcomeInspect:     "INSPECT",
	OutcomeNotVerified: "NOTVERIFIED",
	OutcomeTimedOut:    "TIMEDOUT",
	OutcomeFailed:      "FAILED",
	OutcomeBlocked:     "BLOCKED",
	OutcomeDumpedCore:  "DUMPEDCORE",
}

// outcomeWords are the lowercase forms used in assertion transcripts.
var outcomeWords = map[Outcome]string{
	OutcomeSkipped:     "skipped",
	OutcomePassed:      "passed",
	OutcomeInspect:     "requires inspection",
	OutcomeNotVerified: "not verified",
	OutcomeTimedOut:    "timed out",
	OutcomeFailed:      "failed",
	OutcomeBlocked:     "blocked",
	OutcomeDumpedCore:  "dumped core",
}

func (o Outcome) String() string {
	if s, ok := outcomeTokens[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Word returns the lowercase transcript form of the outcome.
func (o Outcome) Word() string {
	if s, ok := outcomeWords[o]; ok {
		return s
	}
	return o.String()
}

// IsFailure reports whether the outcome marks the job as failed.
// NOTVERIFIED and INSPECT are warnings, not failures.
func (o Outcome) IsFailure() bool {
	return o >= OutcomeTimedOut
}

// OK reports whether the outcome is acceptable for a zero exit code.
func (o Outcome) OK() bool {
	return o <= OutcomePassed
}

// Worse returns the higher-severity of the two outcomes.
func Worse(a, b Outcome) Outcome {
	if b > a {
		return b
	}
	return a
}

// ParseOutcome converts a literal outcome token back into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	for o, token := range outcomeTokens {
		if token == s {
			return o, nil
		}
	}
	return OutcomeNotVerified, fmt.Errorf("unknown outcome token %q", s)
}
