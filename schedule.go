package main

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	dateLayout = "2006-01-02"

	DefaultMaxPlanDays = 365
	maxSubjectChars    = 200
)

// Clock supplies the current calendar date.
type Clock interface {
	Today() time.Time
}

type systemClock struct {
	loc *time.Location
}

func NewSystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return systemClock{loc: loc}
}

func (c systemClock) Today() time.Time {
	return truncateToDate(time.Now().In(c.loc))
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func ParseDeadline(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDeadline
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDeadline, s)
	}
	return t, nil
}

// DaysUntil counts whole calendar days from today to deadline. Time of day
// and zone offsets are ignored, so a DST change never shifts the count.
func DaysUntil(today, deadline time.Time) int {
	ty, tm, td := today.Date()
	dy, dm, dd := deadline.Date()
	from := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	to := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// Validate checks a request against today's date and returns the number of
// days left until the deadline.
func Validate(req PlanRequest, today time.Time, maxDays int) (int, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return 0, ErrSubjectRequired
	}
	if utf8.RuneCountInString(subject) > maxSubjectChars {
		return 0, fmt.Errorf("%w: max %d characters", ErrSubjectTooLong, maxSubjectChars)
	}
	if req.Deadline.IsZero() {
		return 0, ErrInvalidDeadline
	}

	days := DaysUntil(today, req.Deadline)
	if days <= 0 {
		return days, ErrDeadlineNotFuture
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxPlanDays
	}
	if days > maxDays {
		return days, fmt.Errorf("%w: %d days left, max is %d", ErrDeadlineTooFar, days, maxDays)
	}
	return days, nil
}
