package normalize

import (
	"strings"
	"time"
)

// TimeLayout is the canonical 24h clock form.
const TimeLayout = "15:04"

// DefaultTime is substituted when a time cannot be understood.
const DefaultTime = "09:00"

// 12h forms first, then 24h.
var clockLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
	TimeLayout,
	"15:04:05",
	"15.04",
}

var meridiemReplacer = strings.NewReplacer(
	"A.M.", "AM",
	"P.M.", "PM",
	"A.M", "AM",
	"P.M", "PM",
)

// Time resolves raw into HH:MM. The first layout that parses wins.
// Unparseable input becomes 09:00 with Defaulted set.
func Time(raw string) Result {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	s = meridiemReplacer.Replace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "AT "))

	switch s {
	case "":
		return Result{Value: DefaultTime, Defaulted: true}
	case "NOON", "MIDDAY":
		return Result{Value: "12:00"}
	}

	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Result{Value: t.Format(TimeLayout)}
		}
	}
	return Result{Value: DefaultTime, Defaulted: true}
}

// Minutes converts a canonical HH:MM into minutes after midnight.
func Minutes(canonical string) (int, bool) {
	t, err := time.Parse(TimeLayout, canonical)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
