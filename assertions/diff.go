package assertions

// divergentMiddleMax caps how much of a divergent segment is shown before
// it is truncated.
const divergentMiddleMax = 64

// markDivergence highlights where two unequal strings differ. The longest
// common prefix and suffix are kept as-is and the divergent middle of each
// side is bracketed with <<< >>>. Returns false when the strings share no
// common prefix or suffix, in which case plain rendering reads better than
// markers around the whole value.
func markDivergence(actual, expected string) (string, string, bool) {
	if actual == expected {
		return "", "", false
	}
	a, b := []rune(actual), []rune(expected)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	if prefix == 0 && suffix == 0 {
		return "", "", false
	}

	mark := func(r []rune) string {
		middle := truncateMiddle(string(r[prefix : len(r)-suffix]))
		return string(r[:prefix]) + "<<<" + middle + ">>>" + string(r[len(r)-suffix:])
	}
	return mark(a), mark(b), true
}

func truncateMiddle(s string) string {
	r := []rune(s)
	if len(r) <= divergentMiddleMax {
		return s
	}
	return string(r[:divergentMiddleMax-3]) + "..."
}
