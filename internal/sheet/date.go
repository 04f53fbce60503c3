package sheet

import (
	"math"
	"strings"
	"time"
)

// Supported textual date layouts, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"2006/01/02",
}

// Fallback generic ISO-8601 layouts (datetime forms with optional zone).
var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Spreadsheet serial dates count days from this epoch. Serial 2 is
// 1900-01-01; the off-by-one from the historical 1900 leap-year quirk is
// reproduced on purpose for compatibility with the source data.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31; anything outside (0, maxSerial] is noise.
const maxSerial = 2958465

// ResolveDate normalizes a raw cell value into a calendar date (midnight
// UTC). It accepts the textual layouts above, generic ISO-8601 datetimes and
// numeric spreadsheet serials. Unparseable input reports ok=false; nothing
// here ever returns an error or panics.
func ResolveDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		return resolveText(x)
	case float64:
		return resolveSerial(x)
	case int:
		return resolveSerial(float64(x))
	case int64:
		return resolveSerial(float64(x))
	default:
		return time.Time{}, false
	}
}

func resolveText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), true
		}
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), true
		}
	}
	return time.Time{}, false
}

func resolveSerial(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) {
		return time.Time{}, false
	}
	days := math.Trunc(serial)
	if days <= 0 || days > maxSerial {
		return time.Time{}, false
	}
	return serialEpoch.AddDate(0, 0, int(days)), true
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether the resolved date d falls on the same calendar day
// as ref. The comparison uses each value's own calendar fields, so "today" is
// decided by whatever zone ref was computed in, not by the host zone.
func SameDay(d, ref time.Time) bool {
	return d.Year() == ref.Year() && d.Month() == ref.Month() && d.Day() == ref.Day()
}
