package assertions

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// renderValue converts a value to its diagnostic form. Textual values are
// single-quoted, numbers render bare, and anything opaque renders as
// TypeName(value) so the transcript never hides what kind of thing was
// compared.
func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return quoteSingle(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Duration:
		return x.String()
	case error:
		return quoteSingle(x.Error())
	case fmt.Stringer:
		return typeName(v) + "(" + x.String() + ")"
	default:
		return typeName(v) + "(" + fmt.Sprintf("%v", v) + ")"
	}
}

// quoteSingle renders a string with single-quote delimiters, escaping
// control characters the way strconv does.
func quoteSingle(s string) string {
	q := strconv.Quote(s)
	return "'" + q[1:len(q)-1] + "'"
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// asInt64 and asFloat64 support cross-type numeric comparison: values of
// any integer or float kind compare by numeric value, not by Go type.
func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// numbersEqual compares two values numerically. The second return reports
// whether both sides were numeric at all.
func numbersEqual(a, b any) (equal, numeric bool) {
	af, aok := asFloat64(a)
	bf, bok := asFloat64(b)
	if !aok || !bok {
		return false, false
	}
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi, true
		}
	}
	return af == bf, true
}
