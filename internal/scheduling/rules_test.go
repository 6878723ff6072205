package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday 10:00.
var wednesday = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

// noticeRules enables a one day lead time and a three month horizon.
func noticeRules() Rules {
	rules := DefaultRules()
	rules.MinNotice = 24 * time.Hour
	rules.HorizonMonths = 3
	return rules
}

func TestRulesCheck(t *testing.T) {
	rules := noticeRules()
	tests := []struct {
		name  string
		date  string
		clock string
		want  Violation
	}{
		{"weekday in hours", "2026-10-20", "10:00", ViolationNone},
		{"opening time inclusive", "2026-10-20", "09:00", ViolationNone},
		{"closing time inclusive", "2026-10-20", "17:00", ViolationNone},
		{"past date", "2026-10-13", "10:00", ViolationPastDate},
		{"saturday", "2026-10-17", "10:00", ViolationOffDay},
		{"sunday", "2026-10-18", "10:00", ViolationOffDay},
		{"before open", "2026-10-20", "08:59", ViolationOffTiming},
		{"after close", "2026-10-20", "17:01", ViolationOffTiming},
		{"evening", "2026-10-20", "18:00", ViolationOffTiming},
		{"later today", "2026-10-14", "14:00", ViolationInsufficientNotice},
		{"exactly 24h ahead", "2026-10-15", "10:00", ViolationNone},
		{"beyond horizon", "2027-03-01", "10:00", ViolationBeyondHorizon},
		{"past beats weekend", "2026-10-11", "20:00", ViolationPastDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.Check(tt.date, tt.clock, wednesday)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultRulesSkipNoticeAndHorizon(t *testing.T) {
	rules := DefaultRules()
	assert.Zero(t, rules.MinNotice)
	assert.Zero(t, rules.HorizonMonths)

	got, err := rules.Check("2026-10-14", "09:00", wednesday)
	require.NoError(t, err)
	assert.Equal(t, ViolationNone, got)

	got, err = rules.Check("2028-01-04", "09:00", wednesday)
	require.NoError(t, err)
	assert.Equal(t, ViolationNone, got)
}

func TestRulesCheckRejectsNonCanonical(t *testing.T) {
	_, err := DefaultRules().Check("tomorrow", "10:00", wednesday)
	assert.Error(t, err)
	_, err = DefaultRules().Check("2026-10-20", "10am", wednesday)
	assert.Error(t, err)
}

func TestNextValid(t *testing.T) {
	rules := noticeRules()
	tests := []struct {
		name  string
		date  string
		clock string
		want  Slot
	}{
		{"saturday keeps time of day", "2026-10-17", "14:00", Slot{"2026-10-19", "14:00"}},
		{"after close moves to next morning", "2026-10-20", "18:00", Slot{"2026-10-21", "09:00"}},
		{"past date searches from today", "2026-10-01", "10:00", Slot{"2026-10-15", "10:00"}},
		{"odd minute rounds up", "2026-10-20", "07:10", Slot{"2026-10-20", "09:00"}},
		{"beyond horizon falls back to earliest", "2027-06-01", "11:00", Slot{"2026-10-15", "10:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rules.NextValid(tt.date, tt.clock, wednesday, nil)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextValidWithDefaultsAllowsToday(t *testing.T) {
	got, ok := DefaultRules().NextValid("2026-10-01", "16:00", wednesday, nil)
	require.True(t, ok)
	assert.Equal(t, Slot{"2026-10-14", "16:00"}, got)
}

func TestNextValidSkipsTakenSlots(t *testing.T) {
	rules := DefaultRules()
	taken := func(s Slot) bool { return s.Date == "2026-10-20" }
	got, ok := rules.NextValid("2026-10-20", "10:00", wednesday, taken)
	require.True(t, ok)
	assert.Equal(t, Slot{"2026-10-21", "10:00"}, got)
}

func TestRulesValidate(t *testing.T) {
	assert.NoError(t, DefaultRules().Validate())

	bad := DefaultRules()
	bad.CloseTime = "08:00"
	assert.Error(t, bad.Validate())

	bad = DefaultRules()
	bad.OpenTime = "nine"
	assert.Error(t, bad.Validate())

	bad = DefaultRules()
	bad.OpenDays = nil
	assert.Error(t, bad.Validate())
}

func TestRulesHours(t *testing.T) {
	assert.Equal(t, "Monday-Friday, 09:00-17:00", DefaultRules().Hours())

	r := DefaultRules()
	r.OpenDays = []time.Weekday{time.Tuesday, time.Thursday}
	assert.Equal(t, "Tuesday, Thursday, 09:00-17:00", r.Hours())
}
