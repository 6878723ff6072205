package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/wolfman30/clinic-frontdesk/internal/scheduling"
)

// Policy is the optional booking policy file. Unset fields keep the value
// taken from the environment.
type Policy struct {
	Timezone      string   `yaml:"timezone,omitempty"`
	OpenDays      []string `yaml:"open_days,omitempty"`
	OpenTime      string   `yaml:"open_time,omitempty"`
	CloseTime     string   `yaml:"close_time,omitempty"`
	MinNotice     string   `yaml:"min_notice,omitempty"`
	HorizonMonths *int     `yaml:"horizon_months,omitempty"`
	SlotCapacity  *int     `yaml:"slot_capacity,omitempty"`
	SlotInterval  string   `yaml:"slot_interval,omitempty"`
	StrictInput   *bool    `yaml:"strict_input,omitempty"`
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse policy %s: %w", path, err)
	}
	return &p, nil
}

// SchedulingRules builds booking rules from the environment, then the policy
// file when one is configured.
func (c *Config) SchedulingRules() (scheduling.Rules, error) {
	rules := scheduling.Rules{
		OpenTime:      c.ClinicOpenTime,
		CloseTime:     c.ClinicCloseTime,
		MinNotice:     c.BookingMinNotice,
		HorizonMonths: c.BookingHorizonMonths,
		SlotCapacity:  c.BookingSlotCapacity,
		SlotInterval:  c.BookingSlotInterval,
		StrictInput:   c.BookingStrictInput,
	}
	var err error
	if rules.Location, err = time.LoadLocation(c.ClinicTimezone); err != nil {
		return scheduling.Rules{}, fmt.Errorf("config: CLINIC_TIMEZONE: %w", err)
	}
	if rules.OpenDays, err = ParseWeekdays(c.ClinicOpenDays); err != nil {
		return scheduling.Rules{}, fmt.Errorf("config: CLINIC_OPEN_DAYS: %w", err)
	}

	if c.PolicyFile != "" {
		policy, err := LoadPolicy(c.PolicyFile)
		if err != nil {
			return scheduling.Rules{}, err
		}
		if rules, err = policy.Apply(rules); err != nil {
			return scheduling.Rules{}, err
		}
	}
	if err := rules.Validate(); err != nil {
		return scheduling.Rules{}, fmt.Errorf("config: %w", err)
	}
	return rules, nil
}

// Apply overlays the policy on rules.
func (p *Policy) Apply(rules scheduling.Rules) (scheduling.Rules, error) {
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return rules, fmt.Errorf("config: policy timezone: %w", err)
		}
		rules.Location = loc
	}
	if len(p.OpenDays) > 0 {
		days, err := ParseWeekdays(strings.Join(p.OpenDays, ","))
		if err != nil {
			return rules, fmt.Errorf("config: policy open_days: %w", err)
		}
		rules.OpenDays = days
	}
	if p.OpenTime != "" {
		rules.OpenTime = p.OpenTime
	}
	if p.CloseTime != "" {
		rules.CloseTime = p.CloseTime
	}
	if p.MinNotice != "" {
		d, err := time.ParseDuration(p.MinNotice)
		if err != nil {
			return rules, fmt.Errorf("config: policy min_notice: %w", err)
		}
		rules.MinNotice = d
	}
	if p.SlotInterval != "" {
		d, err := time.ParseDuration(p.SlotInterval)
		if err != nil {
			return rules, fmt.Errorf("config: policy slot_interval: %w", err)
		}
		rules.SlotInterval = d
	}
	if p.HorizonMonths != nil {
		rules.HorizonMonths = *p.HorizonMonths
	}
	if p.SlotCapacity != nil {
		rules.SlotCapacity = *p.SlotCapacity
	}
	if p.StrictInput != nil {
		rules.StrictInput = *p.StrictInput
	}
	return rules, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekdays reads "mon-fri", "mon,wed,fri" or full day names. Ranges may
// wrap, as in "sat-mon".
func ParseWeekdays(raw string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var days []time.Weekday
	add := func(d time.Weekday) {
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, isRange := strings.Cut(part, "-")
		start, err := weekday(from)
		if err != nil {
			return nil, err
		}
		if !isRange {
			add(start)
			continue
		}
		end, err := weekday(to)
		if err != nil {
			return nil, err
		}
		for d := start; ; d = (d + 1) % 7 {
			add(d)
			if d == end {
				break
			}
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no days in %q", raw)
	}
	return days, nil
}

func weekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		if d, ok := weekdayNames[s[:3]]; ok {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
