// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"time"
)

// Date is a calendar date with no time-of-day component. Streak
// arithmetic works entirely in whole days: "checked in yesterday" is a
// statement about calendar dates, not about 24-hour windows.
//
// The zero value means "no date" (a participant who has never checked
// in). IsZero reports it, and the omitzero JSON option elides it.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate constructs a Date from its components. The components are
// normalized the way time.Date normalizes (February 30 becomes
// March 1 or 2).
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's location. Callers that
// want the UTC calendar date (the convention for all response
// timestamps) must pass a UTC time.
func DateOf(t time.Time) Date {
	year, month, day := t.Date()
	return Date{year: year, month: month, day: day}
}

// ParseDate parses a date in ISO "2006-01-02" form.
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", raw, err)
	}
	return DateOf(t), nil
}

// IsZero reports whether the Date is the zero value ("no date").
func (d Date) IsZero() bool { return d == Date{} }

// Time returns midnight UTC on d.
func (d Date) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n whole days after d. n may be negative.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// DaysSince returns the number of whole days from other to d.
// Positive when d is later than other.
func (d Date) DaysSince(other Date) int {
	return int(d.Time().Sub(other.Time()) / (24 * time.Hour))
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool { return d.Time().Before(other.Time()) }

// After reports whether d is later than other.
func (d Date) After(other Date) bool { return d.Time().After(other.Time()) }

// String returns the ISO "2006-01-02" form, or "" for the zero value.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(time.DateOnly)
}

// MarshalText implements encoding.TextMarshaler. The zero value
// marshals as the empty string.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero Date.
func (d *Date) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
