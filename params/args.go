package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// multiSeparator is used instead of a pipe when one of the values of a
// multi-value parameter contains a pipe. The API recognises such values
// by the leading separator.
const multiSeparator = "\x1f"

// Args holds the parameters of a call as the caller builds them.
// Values may be nil (dropped), string, bool (true is sent as the empty
// string, false is dropped), integers, floats, time.Time, fmt.Stringer,
// or a list ([]string, []int, []interface{}). Lists are deduplicated,
// sorted and joined so that equal calls always encode identically.
type Args map[string]interface{}

// Normalize converts a into wire Values.
func (a Args) Normalize() Values {
	v := make(Values, len(a))
	for key, raw := range a {
		if s, ok := normalizeValue(raw); ok {
			v[key] = s
		}
	}
	return v
}

// FromValues wraps already encoded Values as Args.
func FromValues(v Values) Args {
	a := make(Args, len(v))
	for k, val := range v {
		a[k] = val
	}
	return a
}

// Clone returns a shallow copy of a.
func (a Args) Clone() Args {
	c := make(Args, len(a))
	for k, val := range a {
		c[k] = val
	}
	return c
}

func normalizeValue(raw interface{}) (string, bool) {
	switch val := raw.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case *string:
		if val == nil {
			return "", false
		}
		return *val, true
	case bool:
		return "", val
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case uint:
		return strconv.FormatUint(uint64(val), 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case uint32:
		return strconv.FormatUint(uint64(val), 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case time.Time:
		return val.UTC().Format("2006-01-02T15:04:05Z"), true
	case []string:
		return JoinList(val), true
	case []int:
		list := make([]string, len(val))
		for i, n := range val {
			list[i] = strconv.Itoa(n)
		}
		return JoinList(list), true
	case []interface{}:
		list := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := normalizeValue(item); ok {
				list = append(list, s)
			}
		}
		return JoinList(list), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// JoinList deduplicates and sorts list and joins it into one multi-value
// parameter. Values containing a pipe switch the whole list to the
// alternative separator.
func JoinList(list []string) string {
	seen := make(map[string]struct{}, len(list))
	uniq := make([]string, 0, len(list))
	pipe := false
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		uniq = append(uniq, s)
		if strings.Contains(s, "|") {
			pipe = true
		}
	}
	sort.Strings(uniq)
	if pipe {
		return multiSeparator + strings.Join(uniq, multiSeparator)
	}
	return strings.Join(uniq, "|")
}
