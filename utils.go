package systest

import (
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// getOutcomeString returns a glyph-prefixed string for an outcome token.
func getOutcomeString(token string) string {
	outcome, err := types.ParseOutcome(token)
	if err != nil {
		return "? " + token
	}
	switch {
	case outcome == types.OutcomePassed:
		return "✓ " + token
	case outcome == types.OutcomeSkipped:
		return "- " + token
	case outcome.IsFailure():
		return "✗ " + token
	default:
		return "? " + token
	}
}
