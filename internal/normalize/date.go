// Package normalize converts free-form patient input into canonical values.
//
// Every function here is total: it always returns a value. When the input
// could not be understood the Result is marked Defaulted so callers can warn
// instead of acting on a substituted value.
package normalize

import (
	"regexp"
	"strings"
	"time"
)

// DateLayout is the canonical date form used for storage and comparison.
const DateLayout = "2006-01-02"

// Result is a normalized value plus whether it was substituted.
type Result struct {
	Value     string
	Defaulted bool
}

// Absolute formats in priority order. DD/MM/YYYY wins over MM/DD/YYYY; the
// US order only applies when the day/month reading is impossible.
var datedLayouts = []string{
	DateLayout,
	"2/1/2006",
	"1/2/2006",
	"2.1.2006",
	"2-Jan-2006",
	"2 Jan 2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
}

// Formats without a year resolve to the current year.
var yearlessLayouts = []string{
	"2 Jan",
	"2 January",
	"Jan 2",
	"January 2",
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"tues":      time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"thur":      time.Thursday,
	"thurs":     time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

var ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)

// Date resolves raw into YYYY-MM-DD relative to now. Relative tokens are tried
// first, then absolute formats, then formats without a year. Anything else
// falls back to now's date with Defaulted set.
func Date(raw string, now time.Time) Result {
	cleaned := cleanDate(raw)
	if cleaned == "" {
		return Result{Value: now.Format(DateLayout), Defaulted: true}
	}

	if d, ok := relativeDate(strings.ToLower(cleaned), now); ok {
		return Result{Value: d.Format(DateLayout)}
	}

	for _, layout := range datedLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return Result{Value: t.Format(DateLayout)}
		}
	}

	for _, layout := range yearlessLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			d := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
			return Result{Value: d.Format(DateLayout)}
		}
	}

	return Result{Value: now.Format(DateLayout), Defaulted: true}
}

// ParseDate parses a canonical date in loc.
func ParseDate(canonical string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, canonical, loc)
}

func cleanDate(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	s = strings.TrimRight(s, ".!?")
	return ordinalSuffix.ReplaceAllString(s, "$1")
}

func relativeDate(s string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch s {
	case "today", "now":
		return today, true
	case "tomorrow", "tmrw", "tmr":
		return today.AddDate(0, 0, 1), true
	case "day after tomorrow", "the day after tomorrow":
		return today.AddDate(0, 0, 2), true
	}

	name := s
	for _, prefix := range []string{"this ", "next ", "coming "} {
		name = strings.TrimPrefix(name, prefix)
	}
	wd, ok := weekdays[name]
	if !ok {
		return time.Time{}, false
	}
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead), true
}
