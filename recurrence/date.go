package recurrence

import (
	"time"
)

// =============================================================================
// DATE - Calendar date abstraction (this IS a calendar-date system)
// =============================================================================

// Date is a calendar date, not an instant. No timezone conversion is ever
// performed; occurrence arithmetic is done in calendar space, which avoids
// drift from daylight-saving or timezone edge cases.
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its calendar date (in UTC).
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool         { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool         { return d.normalize().After(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return d.Before(other) || d.Equal(other) }
func (d Date) AfterOrEqual(other Date) bool  { return d.After(other) || d.Equal(other) }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.normalize().AddDate(0, 0, n)} }

// AddMonthsClamped adds n calendar months, clamping the day-of-month to
// the last valid day of the resulting month (Jan 31 + 1 month = Feb 28/29).
// This differs from time.AddDate, which overflows into the next month
// (Jan 31 + 1 month = Mar 3).
func (d Date) AddMonthsClamped(n int) Date {
	year, month, day := d.normalize().Date()
	months := int(month) - 1 + n
	targetYear := year + months/12
	targetMonth := time.Month(months%12 + 1)
	if last := daysInMonth(targetYear, targetMonth); day > last {
		day = last
	}
	return NewDate(targetYear, targetMonth, day)
}

// AddYearsClamped adds n calendar years with the same clamping rule
// (Feb 29 + 1 year = Feb 28 in a non-leap year).
func (d Date) AddYearsClamped(n int) Date {
	year, month, day := d.normalize().Date()
	targetYear := year + n
	if last := daysInMonth(targetYear, month); day > last {
		day = last
	}
	return NewDate(targetYear, month, day)
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }

func (d Date) String() string {
	return d.normalize().Format("2006-01-02")
}
