package loop

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Schedule computes iteration times. robfig/cron schedules satisfy it
// directly.
type Schedule interface {
	// Next returns the next activation time after t.
	Next(t time.Time) time.Time
}

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a cron expression into a Schedule.
func ParseCron(expr string) (Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("loop: parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// ClockTime is a daily wall-clock time (UTC).
type ClockTime struct {
	Hour   int
	Minute int
	Second int
}

// At is shorthand for constructing a ClockTime.
func At(hour, minute, second int) ClockTime {
	return ClockTime{Hour: hour, Minute: minute, Second: second}
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// on anchors the clock time to the date of t.
func (c ClockTime) on(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, c.Second, 0, time.UTC)
}

// NextClockTime returns the earliest occurrence of any listed time
// after t, rolling into the next day when today's slots have passed.
func NextClockTime(times []ClockTime, t time.Time) time.Time {
	return clockSchedule(times).Next(t)
}

// clockSchedule runs once per day at each listed time.
type clockSchedule []ClockTime

// Next returns the earliest listed time after t, rolling into the next
// day when all of today's slots have passed.
func (s clockSchedule) Next(t time.Time) time.Time {
	t = t.In(time.UTC)
	var best time.Time
	for _, c := range s {
		candidate := c.on(t)
		if !candidate.After(t) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best
}
