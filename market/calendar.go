package market

import "time"

const dateLayout = "2006-01-02"

// Calendar decides which days the exchange trades. Weekends are always
// closed; Holidays holds extra closed dates as YYYY-MM-DD.
type Calendar struct {
	Location *time.Location
	holidays map[string]struct{}
}

// NewCalendar builds a calendar. A nil location means UTC.
func NewCalendar(loc *time.Location, holidays []string) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{Location: loc, holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[h] = struct{}{}
	}
	return c
}

// In converts t to the exchange location.
func (c *Calendar) In(t time.Time) time.Time {
	return t.In(c.Location)
}

// IsHoliday reports whether t's exchange-local date is a configured holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[c.In(t).Format(dateLayout)]
	return ok
}

// IsTradingDay reports whether the exchange is open on t's local date.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := c.In(t)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(local)
}

// NextTradingDay returns the first trading day strictly after t, at
// exchange-local midnight.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	local := c.In(t)
	y, m, d := local.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, c.Location)
	for i := 0; i < 366; i++ {
		day = day.AddDate(0, 0, 1)
		if c.IsTradingDay(day) {
			return day
		}
	}
	return day
}
