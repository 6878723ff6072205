package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/normalize"
)

// Rules are the clinic's booking constraints.
type Rules struct {
	OpenDays  []time.Weekday
	OpenTime  string // "09:00"
	CloseTime string // "17:00", inclusive
	// MinNotice is the minimum lead time before a slot. Zero disables the check.
	MinNotice time.Duration
	// HorizonMonths is how far ahead a booking may be. Zero disables the check.
	HorizonMonths int
	// SlotCapacity is how many live appointments one date+time may hold. Zero means unlimited.
	SlotCapacity int
	// SlotInterval is the step used when suggesting alternative slots.
	SlotInterval time.Duration
	// StrictInput refuses to book on a date or time the normalizers had to guess.
	StrictInput bool
	Location    *time.Location
}

// DefaultRules is Monday to Friday, 09:00 to 17:00, one patient per slot.
// Minimum notice and the booking horizon are off until configured.
func DefaultRules() Rules {
	return Rules{
		OpenDays:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		OpenTime:     "09:00",
		CloseTime:    "17:00",
		SlotCapacity: 1,
		SlotInterval: 30 * time.Minute,
		StrictInput:  true,
		Location:     time.UTC,
	}
}

// Validate checks the rules are internally consistent.
func (r Rules) Validate() error {
	open, ok := normalize.Minutes(r.OpenTime)
	if !ok {
		return fmt.Errorf("scheduling: invalid open time %q", r.OpenTime)
	}
	closing, ok := normalize.Minutes(r.CloseTime)
	if !ok {
		return fmt.Errorf("scheduling: invalid close time %q", r.CloseTime)
	}
	if closing < open {
		return fmt.Errorf("scheduling: close time %s before open time %s", r.CloseTime, r.OpenTime)
	}
	if len(r.OpenDays) == 0 {
		return fmt.Errorf("scheduling: no open days")
	}
	if r.MinNotice < 0 || r.HorizonMonths < 0 || r.SlotCapacity < 0 {
		return fmt.Errorf("scheduling: notice, horizon and capacity must not be negative")
	}
	return nil
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Rules) interval() time.Duration {
	if r.SlotInterval <= 0 {
		return 30 * time.Minute
	}
	return r.SlotInterval
}

func (r Rules) isOpenDay(d time.Weekday) bool {
	for _, open := range r.OpenDays {
		if open == d {
			return true
		}
	}
	return false
}

// Hours describes the operating window for messages, e.g. "Monday-Friday, 09:00-17:00".
func (r Rules) Hours() string {
	days := make([]string, 0, len(r.OpenDays))
	for _, d := range r.OpenDays {
		days = append(days, d.String())
	}
	span := strings.Join(days, ", ")
	if isWeekdays(r.OpenDays) {
		span = "Monday-Friday"
	}
	return fmt.Sprintf("%s, %s-%s", span, r.OpenTime, r.CloseTime)
}

func isWeekdays(days []time.Weekday) bool {
	if len(days) != 5 {
		return false
	}
	for i, d := range days {
		if d != time.Monday+time.Weekday(i) {
			return false
		}
	}
	return true
}

// Violation is a business rule a slot breaks.
type Violation string

const (
	ViolationNone               Violation = ""
	ViolationPastDate           Violation = "past_date"
	ViolationOffDay             Violation = "off_day"
	ViolationOffTiming          Violation = "off_timing"
	ViolationInsufficientNotice Violation = "insufficient_notice"
	ViolationBeyondHorizon      Violation = "beyond_horizon"
)

// Check validates a canonical date and time against the rules as of now.
// Checks run in a fixed order and the first failure wins.
func (r Rules) Check(date, clock string, now time.Time) (Violation, error) {
	loc := r.location()
	now = now.In(loc)
	day, err := normalize.ParseDate(date, loc)
	if err != nil {
		return ViolationNone, fmt.Errorf("scheduling: bad date %q: %w", date, err)
	}
	minutes, ok := normalize.Minutes(clock)
	if !ok {
		return ViolationNone, fmt.Errorf("scheduling: bad time %q", clock)
	}
	return r.check(day, minutes, now), nil
}

func (r Rules) check(day time.Time, minutes int, now time.Time) Violation {
	today := midnight(now)
	if day.Before(today) {
		return ViolationPastDate
	}
	if !r.isOpenDay(day.Weekday()) {
		return ViolationOffDay
	}
	open, _ := normalize.Minutes(r.OpenTime)
	closing, _ := normalize.Minutes(r.CloseTime)
	if minutes < open || minutes > closing {
		return ViolationOffTiming
	}
	slot := time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
	if r.MinNotice > 0 && slot.Sub(now) < r.MinNotice {
		return ViolationInsufficientNotice
	}
	if r.HorizonMonths > 0 && day.After(today.AddDate(0, r.HorizonMonths, 0)) {
		return ViolationBeyondHorizon
	}
	return ViolationNone
}

// Slot is a canonical date and time pair.
type Slot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (s Slot) String() string {
	return s.Date + " " + s.Time
}

// maxSearchDays bounds suggestion searches when the horizon is disabled.
const maxSearchDays = 366

// NextValid returns the first valid slot at or after the requested one,
// preferring the same time of day. When nothing valid follows the request it
// searches from now. taken, if set, reports slots that are already full.
func (r Rules) NextValid(date, clock string, now time.Time, taken func(Slot) bool) (Slot, bool) {
	loc := r.location()
	now = now.In(loc)
	start, err := normalize.ParseDate(date, loc)
	if err != nil || start.Before(midnight(now)) {
		start = midnight(now)
	}
	minutes, ok := normalize.Minutes(clock)
	if !ok {
		minutes = -1
	}

	free := func(day time.Time, m int) (Slot, bool) {
		if r.check(day, m, now) != ViolationNone {
			return Slot{}, false
		}
		s := Slot{Date: day.Format(normalize.DateLayout), Time: formatMinutes(m)}
		if taken != nil && taken(s) {
			return Slot{}, false
		}
		return s, true
	}

	open, _ := normalize.Minutes(r.OpenTime)
	closing, _ := normalize.Minutes(r.CloseTime)
	if minutes >= open && minutes <= closing {
		for i := 0; i < 14; i++ {
			if s, ok := free(start.AddDate(0, 0, i), minutes); ok {
				return s, true
			}
		}
	}

	step := int(r.interval() / time.Minute)
	scan := func(from time.Time, fromMinutes int) (Slot, bool) {
		for i := 0; i < r.searchDays(); i++ {
			day := from.AddDate(0, 0, i)
			if !r.isOpenDay(day.Weekday()) {
				continue
			}
			first := open
			if i == 0 && fromMinutes > open {
				first = open + ((fromMinutes-open+step-1)/step)*step
			}
			for m := first; m <= closing; m += step {
				if s, ok := free(day, m); ok {
					return s, true
				}
			}
		}
		return Slot{}, false
	}

	if s, ok := scan(start, minutes); ok {
		return s, true
	}
	return scan(midnight(now), 0)
}

func (r Rules) searchDays() int {
	if r.HorizonMonths > 0 {
		return 31*r.HorizonMonths + 1
	}
	return maxSearchDays
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
