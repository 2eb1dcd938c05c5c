package types

import "strings"

// Substitution is one named sub-expression of an assertion, already
// rendered to its diagnostic form.
type Substitution struct {
	Name  string
	Value string
}

// AssertionRecord is the rendered diagnostic of a single validation check.
// Records are immutable once produced; they are appended to the job's
// transcript and never touched again.
type AssertionRecord struct {
	Expr          string
	Substitutions []Substitution
	Outcome       Outcome
	Note          string
}

// String renders the transcript line. The format is load-bearing: the
// validate-only replay and downstream transcript diffing both depend on it
// being byte-for-byte stable.
func (r AssertionRecord) String() string {
	var b strings.Builder
	b.WriteString("Assert that {")
	b.WriteString(r.Expr)
	b.WriteString("}")
	if len(r.Substitutions) > 0 {
		b.WriteString(" with ")
		for i, s := range r.Substitutions {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(s.Name)
			b.WriteString("=")
			b.WriteString(s.Value)
		}
	}
	b.WriteString(" ... ")
	b.WriteString(r.Outcome.Word())
	if r.Note != "" {
		b.WriteString(" [")
		b.WriteString(r.Note)
		b.WriteString("]")
	}
	return b.String()
}
