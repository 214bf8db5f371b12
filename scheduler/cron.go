package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrScheduleInvalid marks a cron expression that cannot be parsed. Such a
// schedule is never due.
var ErrScheduleInvalid = errors.New("invalid schedule")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrScheduleInvalid, expr, err)
	}
	return sched, nil
}

func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// NextRun is the first cron instant strictly after from, evaluated in loc.
func NextRun(expr string, from time.Time, loc *time.Location) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	if loc != nil {
		from = from.In(loc)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrScheduleInvalid, expr)
	}
	return next, nil
}

// IsDue reports whether now lies within window after the latest cron instant
// p <= now, and p is later than lastRun. A nil lastRun makes the first such
// instant due.
func IsDue(expr string, lastRun *time.Time, now time.Time, window time.Duration, loc *time.Location) (bool, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return false, err
	}
	if loc != nil {
		now = now.In(loc)
	}

	// Next truncates to whole seconds and returns instants strictly after
	// its argument, so start one second before the window opens.
	var latest time.Time
	for n := sched.Next(now.Add(-window).Add(-time.Second)); !n.IsZero() && !n.After(now); n = sched.Next(n) {
		latest = n
	}
	if latest.IsZero() || now.Sub(latest) > window {
		return false, nil
	}
	if lastRun != nil && !latest.After(*lastRun) {
		return false, nil
	}
	return true, nil
}
