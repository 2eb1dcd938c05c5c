package assertions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

func TestEqualTranscriptLine(t *testing.T) {
	e := NewEngine(nil)

	r := e.Equal(12, 34)
	assert.Equal(t, types.OutcomeFailed, r.Outcome)
	assert.Equal(t, "Assert that {actual == expected} with actual=12 expected=34 ... failed", r.String())

	r = e.Equal(12, 12)
	assert.Equal(t, types.OutcomePassed, r.Outcome)
	assert.Equal(t, "Assert that {actual == expected} with actual=12 expected=12 ... passed", r.String())
}

func TestEqualCrossTypeNumeric(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name     string
		actual   any
		expected any
		want     types.Outcome
	}{
		{"int vs float", 5, 5.0, types.OutcomePassed},
		{"float vs int", 5.0, 5, types.OutcomePassed},
		{"int32 vs int64", int32(7), int64(7), types.OutcomePassed},
		{"uint vs int", uint(9), 9, types.OutcomePassed},
		{"near miss", 5, 5.1, types.OutcomeFailed},
		{"number vs string", 5, "5", types.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Equal(tt.actual, tt.expected)
			assert.Equal(t, tt.want, r.Outcome)
		})
	}
}

func TestEqualStringRendering(t *testing.T) {
	e := NewEngine(nil)

	r := e.Equal("alpha", "alpha")
	assert.Equal(t, "Assert that {actual == expected} with actual='alpha' expected='alpha' ... passed", r.String())
}

func TestEqualDivergenceMarkers(t *testing.T) {
	e := NewEngine(nil)

	r := e.Equal("hello world", "hello there")
	assert.Equal(t, types.OutcomeFailed, r.Outcome)
	assert.Equal(t,
		"Assert that {actual == expected} with actual='hello <<<world>>>' expected='hello <<<there>>>' ... failed",
		r.String())

	// No common prefix or suffix, no markers.
	r = e.Equal("abc", "xyz")
	assert.Equal(t, "Assert that {actual == expected} with actual='abc' expected='xyz' ... failed", r.String())
}

func TestEqualDivergenceTruncation(t *testing.T) {
	e := NewEngine(nil)

	middleA := strings.Repeat("a", 200)
	middleB := strings.Repeat("b", 200)
	r := e.Equal("start"+middleA+"end", "start"+middleB+"end")

	line := r.String()
	assert.Contains(t, line, "start<<<")
	assert.Contains(t, line, ">>>end")
	assert.Contains(t, line, "...")
	assert.NotContains(t, line, middleA)
}

func TestEqualLongStringBadPerformance(t *testing.T) {
	e := NewEngine(nil)

	long := strings.Repeat("x", longStringThreshold+1)
	r := e.Equal(long, long)
	assert.Equal(t, types.OutcomeNotVerified, r.Outcome)
	assert.Equal(t, "bad performance", r.Note)
	assert.True(t, strings.HasSuffix(r.String(), "... not verified [bad performance]"))

	// Short equal strings pass cleanly.
	r = e.Equal("short", "short")
	assert.Equal(t, types.OutcomePassed, r.Outcome)
	assert.Empty(t, r.Note)
}

func TestEqualWithTolerance(t *testing.T) {
	e := NewEngine(nil)

	r := e.EqualWithTolerance(5.0, 5.0, 0.1)
	assert.Equal(t, types.OutcomePassed, r.Outcome)

	r = e.EqualWithTolerance(5.05, 5.0, 0.1)
	assert.Equal(t, types.OutcomeNotVerified, r.Outcome)
	assert.Equal(t, "bad performance", r.Note)

	r = e.EqualWithTolerance(5.5, 5.0, 0.1)
	assert.Equal(t, types.OutcomeFailed, r.Outcome)
	assert.Equal(t,
		"Assert that {actual == expected +/- tolerance} with actual=5.5 expected=5 tolerance=0.1 ... failed",
		r.String())
}

func TestNotEqual(t *testing.T) {
	e := NewEngine(nil)

	r := e.NotEqual(1, 2)
	assert.Equal(t, types.OutcomePassed, r.Outcome)
	assert.Equal(t, "Assert that {actual != expected} with actual=1 expected=2 ... passed", r.String())

	r = e.NotEqual(2, 2.0)
	assert.Equal(t, types.OutcomeFailed, r.Outcome)
}

func TestThat(t *testing.T) {
	e := NewEngine(nil)

	r := e.That("latency < limit", true, Named("latency", 42), Named("limit", 100))
	assert.Equal(t, "Assert that {latency < limit} with latency=42 limit=100 ... passed", r.String())
}

func TestUnreferencedValuesOmitted(t *testing.T) {
	e := NewEngine(nil)

	r := e.That("latency < limit", false,
		Named("latency", 420),
		Named("limit", 100),
		Named("unused", "ignored"))
	assert.Equal(t, "Assert that {latency < limit} with latency=420 limit=100 ... failed", r.String())

	// "limit" must not match inside "limitless".
	r = e.That("limitless growth", true, Named("limit", 1))
	assert.Equal(t, "Assert that {limitless growth} ... passed", r.String())
}

func TestOpaqueValueRendering(t *testing.T) {
	e := NewEngine(nil)

	type endpoint struct{ Host string }
	r := e.That("actual is reachable", true, Named("actual", endpoint{Host: "db"}))
	assert.Equal(t, "Assert that {actual is reachable} with actual=endpoint({db}) ... passed", r.String())
}

func TestGrepAssertion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.out")
	require.NoError(t, os.WriteFile(path, []byte("listening on port 8080\n"), 0o644))

	e := NewEngine(nil)

	r := e.Grep(path, `listening on port \d+`, false)
	assert.Equal(t, types.OutcomePassed, r.Outcome)
	assert.Equal(t,
		`Assert that {pattern found in file} with file='server.out' pattern='listening on port \\d+' ... passed`,
		r.String())

	r = e.Grep(path, `ERROR`, false)
	assert.Equal(t, types.OutcomeFailed, r.Outcome)

	r = e.Grep(path, `ERROR`, true)
	assert.Equal(t, types.OutcomePassed, r.Outcome)

	r = e.Grep(path, `listening`, true)
	assert.Equal(t, types.OutcomeFailed, r.Outcome)
}

func TestGrepHarnessFaultBlocks(t *testing.T) {
	e := NewEngine(nil)

	r := e.Grep(filepath.Join(t.TempDir(), "absent.out"), `anything`, false)
	assert.Equal(t, types.OutcomeBlocked, r.Outcome)
	assert.NotEmpty(t, r.Note)

	r = e.Grep("whatever", `(unclosed`, false)
	assert.Equal(t, types.OutcomeBlocked, r.Outcome)
}

func TestWorstReduction(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, types.OutcomeNotVerified, e.Worst())

	e.Equal(1, 1)
	assert.Equal(t, types.OutcomePassed, e.Worst())

	e.Equal(1, 2)
	assert.Equal(t, types.OutcomeFailed, e.Worst())

	e.Blocked("file readable", os.ErrPermission)
	assert.Equal(t, types.OutcomeBlocked, e.Worst())

	// A later pass never lowers the reduction.
	e.Equal(3, 3)
	assert.Equal(t, types.OutcomeBlocked, e.Worst())
}

func TestRecordsAreOrderedCopies(t *testing.T) {
	e := NewEngine(nil)
	e.Equal(1, 1)
	e.Equal(1, 2)

	records := e.Records()
	require.Len(t, records, 2)
	assert.Equal(t, types.OutcomePassed, records[0].Outcome)
	assert.Equal(t, types.OutcomeFailed, records[1].Outcome)

	records[0].Outcome = types.OutcomeDumpedCore
	assert.Equal(t, types.OutcomePassed, e.Records()[0].Outcome)
}
