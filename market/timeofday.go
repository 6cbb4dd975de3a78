package market

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time with minute resolution ("15:15").
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustTimeOfDay is ParseTimeOfDay for constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// Minutes is minutes since midnight.
func (d TimeOfDay) Minutes() int {
	return d.Hour*60 + d.Minute
}

// IsZero reports an unset value.
func (d TimeOfDay) IsZero() bool {
	return d.Hour == 0 && d.Minute == 0
}

// Of returns the time of day of t in t's location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Reached reports whether t is at or after d on t's calendar day.
func (d TimeOfDay) Reached(t time.Time) bool {
	return Of(t).Minutes() >= d.Minutes()
}

// On returns d on the calendar day of t, in t's location.
func (d TimeOfDay) On(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, d.Hour, d.Minute, 0, 0, t.Location())
}
