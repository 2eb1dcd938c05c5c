package assertions

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-systest/process"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// longStringThreshold is the length above which an equality of textual
// values is flagged as bad performance: proving two strings of this size
// equal required a full character scan.
const longStringThreshold = 4096

// Value is a named sub-expression of an assertion, carried purely for
// diagnostic formatting. A value whose name is never referenced in the
// assertion expression is omitted from the transcript.
type Value struct {
	Name string

	val  any
	text string
	pre  bool
}

// Named labels a value for substitution into the transcript line.
func Named(name string, v any) Value {
	return Value{Name: name, val: v}
}

// prerendered bypasses renderValue, for values that already carry
// divergence markers.
func prerendered(name, text string) Value {
	return Value{Name: name, text: text, pre: true}
}

// Engine evaluates validation checks for one job and accumulates their
// records. A failed comparison is a normal FAILED record, never an error;
// errors surface only as BLOCKED records when evaluation itself faults.
// Safe for concurrent use, though a job's validation normally runs on a
// single worker.
type Engine struct {
	log log.Logger

	mu      sync.Mutex
	records []types.AssertionRecord
}

// NewEngine creates an assertion engine logging through the given logger.
func NewEngine(logger log.Logger) *Engine {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Engine{log: logger}
}

// That records a generic predicate check. The expression is the transcript
// template; values substitute into it by name.
func (e *Engine) That(expr string, ok bool, values ...Value) types.AssertionRecord {
	outcome := types.OutcomeFailed
	if ok {
		outcome = types.OutcomePassed
	}
	return e.record(build(expr, outcome, "", values))
}

// Equal records an equality check. Numeric values compare by value across
// types, so 5 and 5.0 are equal. Unequal textual values render with
// divergence markers around the differing middle.
func (e *Engine) Equal(actual, expected any, extra ...Value) types.AssertionRecord {
	values := append([]Value{Named("actual", actual), Named("expected", expected)}, extra...)

	equal, badPerf := equalValues(actual, expected)
	outcome := types.OutcomeFailed
	note := ""
	switch {
	case equal && badPerf:
		outcome = types.OutcomeNotVerified
		note = "bad performance"
	case equal:
		outcome = types.OutcomePassed
	default:
		if as, aok := actual.(string); aok {
			if es, eok := expected.(string); eok {
				if ma, me, marked := markDivergence(as, es); marked {
					values[0] = prerendered("actual", quoteSingle(ma))
					values[1] = prerendered("expected", quoteSingle(me))
				}
			}
		}
	}
	return e.record(build("actual == expected", outcome, note, values))
}

// NotEqual records an inequality check with the same comparison rules as
// Equal.
func (e *Engine) NotEqual(actual, expected any, extra ...Value) types.AssertionRecord {
	values := append([]Value{Named("actual", actual), Named("expected", expected)}, extra...)
	equal, _ := equalValues(actual, expected)
	outcome := types.OutcomePassed
	if equal {
		outcome = types.OutcomeFailed
	}
	return e.record(build("actual != expected", outcome, "", values))
}

// EqualWithTolerance records a float equality check with an explicit
// tolerance. An exact match passes cleanly; a match only within tolerance
// is recorded as bad performance rather than a clean pass.
func (e *Engine) EqualWithTolerance(actual, expected, tolerance float64, extra ...Value) types.AssertionRecord {
	values := append([]Value{
		Named("actual", actual),
		Named("expected", expected),
		Named("tolerance", tolerance),
	}, extra...)

	diff := math.Abs(actual - expected)
	var outcome types.Outcome
	note := ""
	switch {
	case diff == 0:
		outcome = types.OutcomePassed
	case diff <= tolerance:
		outcome = types.OutcomeNotVerified
		note = "bad performance"
	default:
		outcome = types.OutcomeFailed
	}
	return e.record(build("actual == expected +/- tolerance", outcome, note, values))
}

// Grep records whether a pattern matches (or, with absent, does not match)
// a file. A missing file or invalid pattern is a harness fault and records
// BLOCKED; a pattern that simply never matches is an ordinary FAILED or
// PASSED depending on polarity.
func (e *Engine) Grep(file, pattern string, absent bool) types.AssertionRecord {
	expr := "pattern found in file"
	if absent {
		expr = "pattern absent from file"
	}
	values := []Value{
		Named("file", filepath.Base(file)),
		Named("pattern", pattern),
	}

	_, err := process.Grep(file, pattern)
	var nf *process.NotFoundError
	var outcome types.Outcome
	note := ""
	switch {
	case err == nil:
		if absent {
			outcome = types.OutcomeFailed
		} else {
			outcome = types.OutcomePassed
		}
	case errors.As(err, &nf):
		if absent {
			outcome = types.OutcomePassed
		} else {
			outcome = types.OutcomeFailed
		}
	default:
		outcome = types.OutcomeBlocked
		note = err.Error()
	}
	return e.record(build(expr, outcome, note, values))
}

// Blocked records a harness fault that prevented a check from being
// evaluated at all.
func (e *Engine) Blocked(expr string, err error, values ...Value) types.AssertionRecord {
	note := ""
	if err != nil {
		note = err.Error()
	}
	return e.record(build(expr, types.OutcomeBlocked, note, values))
}

// Records returns a copy of everything recorded so far, in order.
func (e *Engine) Records() []types.AssertionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.AssertionRecord, len(e.records))
	copy(out, e.records)
	return out
}

// Worst reduces the recorded outcomes to the highest severity seen. With
// nothing recorded the result is NOTVERIFIED: a job that checked nothing
// has verified nothing.
func (e *Engine) Worst() types.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.records) == 0 {
		return types.OutcomeNotVerified
	}
	worst := types.OutcomeSkipped
	for _, r := range e.records {
		worst = types.Worse(worst, r.Outcome)
	}
	return worst
}

func (e *Engine) record(r types.AssertionRecord) types.AssertionRecord {
	e.mu.Lock()
	e.records = append(e.records, r)
	e.mu.Unlock()

	switch {
	case r.Outcome.IsFailure():
		e.log.Error(r.String())
	case r.Outcome == types.OutcomePassed || r.Outcome == types.OutcomeSkipped:
		e.log.Info(r.String())
	default:
		e.log.Warn(r.String())
	}
	return r
}

// build assembles a record, dropping values whose name never appears in
// the expression.
func build(expr string, outcome types.Outcome, note string, values []Value) types.AssertionRecord {
	var subs []types.Substitution
	for _, v := range values {
		if !referenced(expr, v.Name) {
			continue
		}
		text := v.text
		if !v.pre {
			text = renderValue(v.val)
		}
		subs = append(subs, types.Substitution{Name: v.Name, Value: text})
	}
	return types.AssertionRecord{Expr: expr, Substitutions: subs, Outcome: outcome, Note: note}
}

// referenced reports whether name appears in expr as a whole identifier.
func referenced(expr, name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i+len(name) <= len(expr); i++ {
		if expr[i:i+len(name)] != name {
			continue
		}
		if i > 0 && isIdentChar(expr[i-1]) {
			continue
		}
		if end := i + len(name); end < len(expr) && isIdentChar(expr[end]) {
			continue
		}
		return true
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// equalValues compares two values: numerically when both sides are
// numbers, byte-wise for strings, reflect.DeepEqual otherwise. The second
// return flags equal long strings, whose comparison cost warrants a bad
// performance note.
func equalValues(actual, expected any) (equal, badPerf bool) {
	if eq, numeric := numbersEqual(actual, expected); numeric {
		return eq, false
	}
	if as, ok := actual.(string); ok {
		if es, ok := expected.(string); ok {
			if as != es {
				return false, false
			}
			return true, len(as) > longStringThreshold
		}
	}
	return reflect.DeepEqual(actual, expected), false
}
