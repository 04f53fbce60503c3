package sheet

import (
	"strconv"
	"strings"
	"time"
)

// Column heuristics: each tier is one rule; the first rule with a hit wins
// and within a tier the sheet's header order breaks ties. Keeping the rules
// as an explicit ordered list makes the tie-break deterministic and testable.
var dateColumnRules = []func(label string) bool{
	func(l string) bool { return l == "d" },
	func(l string) bool { return strings.Contains(l, "date") || strings.Contains(l, "дата") },
	func(l string) bool { return strings.HasPrefix(l, "dt") },
}

var valueColumnRules = []func(label string) bool{
	func(l string) bool { return l == "n" },
	func(l string) bool {
		return strings.Contains(l, "sum") || strings.Contains(l, "amount") ||
			strings.Contains(l, "сумма") || strings.Contains(l, "цена")
	},
	func(l string) bool { return strings.HasPrefix(l, "val") },
}

// TodaysItems extracts the value-column string of every row whose date column
// resolves to the same calendar day as today, preserving row order.
//
// today must already be expressed in the notification time zone (callers pass
// time.Now().In(loc)); rows that cannot be resolved are skipped silently.
func TodaysItems(rows []Row, today time.Time) []string {
	var items []string
	for _, row := range rows {
		dateKey, ok := findColumn(row.Headers, dateColumnRules)
		if !ok {
			continue
		}
		valueKey, ok := findColumn(row.Headers, valueColumnRules)
		if !ok {
			continue
		}

		rawDate, ok := row.Get(dateKey)
		if !ok {
			continue
		}
		d, ok := ResolveDate(rawDate)
		if !ok {
			continue
		}
		if !SameDay(d, today) {
			continue
		}

		rawValue, _ := row.Get(valueKey)
		value, ok := cellString(rawValue)
		if !ok {
			continue
		}
		items = append(items, value)
	}
	return items
}

func findColumn(headers []string, rules []func(string) bool) (string, bool) {
	for _, rule := range rules {
		for _, h := range headers {
			if rule(strings.ToLower(strings.TrimSpace(h))) {
				return h, true
			}
		}
	}
	return "", false
}

// cellString renders a cell for dispatch. Empty strings and numeric zero
// count as "nothing to report" (matching the source data conventions).
func cellString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case float64:
		if x == 0 {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		if x == 0 {
			return "", false
		}
		return strconv.Itoa(x), true
	case int64:
		if x == 0 {
			return "", false
		}
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}
