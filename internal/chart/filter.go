package chart

import (
	"fmt"
	"strings"
	"time"

	"github.com/talonops/talon/model"
)

// Period limits the dashboard to activities dated within a trailing window.
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
	PeriodAll     Period = "all"
)

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear, PeriodAll:
		return p, nil
	}
	return "", fmt.Errorf("chart: unknown period %q", s)
}

// Since returns the start of the window ending at now. The zero time means
// no lower bound.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	case PeriodQuarter:
		return now.AddDate(0, -3, 0)
	case PeriodYear:
		return now.AddDate(-1, 0, 0)
	}
	return time.Time{}
}

// Character restricts the dashboard to military or civilian activities.
type Character string

const (
	CharacterAll      Character = "all"
	CharacterMilitary Character = "military"
	CharacterCivilian Character = "civilian"
)

// ParseCharacter validates a character filter.
func ParseCharacter(s string) (Character, error) {
	switch c := Character(strings.ToLower(strings.TrimSpace(s))); c {
	case CharacterAll, CharacterMilitary, CharacterCivilian:
		return c, nil
	}
	return "", fmt.Errorf("chart: unknown character filter %q", s)
}

// Filter is the period and character selection applied before aggregation.
type Filter struct {
	Period    Period    `json:"period"`
	Character Character `json:"character"`
}

// Match reports whether a is inside the filter at time now. Undated
// activities only match PeriodAll.
func (f Filter) Match(a model.Activity, now time.Time) bool {
	if f.Character != CharacterAll && f.Character != "" && !strings.EqualFold(a.Character, string(f.Character)) {
		return false
	}
	since := f.Period.Since(now)
	if since.IsZero() {
		return true
	}
	if a.Date.IsZero() {
		return false
	}
	return !a.Date.Before(since) && !a.Date.After(now)
}
