// Package schedule computes follow-up send times in the organization's local
// time. Every function here is pure: no clock reads, no I/O.
package schedule

import (
	"strings"
	"time"
	_ "time/tzdata"

	"crewcommand_backend/internal/domain"
)

// DefaultTimezone is used when neither the sequence nor the organization
// carries a loadable IANA zone.
const DefaultTimezone = "America/New_York"

const (
	windowStartMinute = 9 * 60
	windowEndMinute   = 18 * 60
)

// Steps are the calendar-day offsets after the estimate was sent.
var Steps = []int{2, 5, 10}

var templateByStep = map[int]string{
	2:  "day_2_followup",
	5:  "day_5_followup",
	10: "day_10_followup",
}

// TemplateKey returns the template used for a step.
func TemplateKey(step int) string {
	return templateByStep[step]
}

// Entry is one queued message of a follow-up sequence.
type Entry struct {
	StepNumber  int
	Channel     domain.Channel
	TemplateKey string
	SendAt      time.Time
}

// NormalizeTimezone returns tz when it names a loadable zone, otherwise
// fallback, otherwise DefaultTimezone.
func NormalizeTimezone(tz, fallback string) string {
	if tz = strings.TrimSpace(tz); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		if _, err := time.LoadLocation(fallback); err == nil {
			return fallback
		}
	}
	return DefaultTimezone
}

// Location loads the normalized zone for tz.
func Location(tz string) *time.Location {
	loc, err := time.LoadLocation(NormalizeTimezone(tz, ""))
	if err != nil {
		return time.UTC
	}
	return loc
}

// Build returns the six entries (steps 2, 5, 10 times sms and email) for an
// estimate sent at eventAt. The local clock time of the event is clamped into
// the send window without changing the day; each step lands on the local
// calendar date of the event plus the step's day offset.
func Build(eventAt time.Time, tz string) []Entry {
	loc := Location(tz)
	local := eventAt.In(loc)
	hour, minute, second := clampClock(local.Hour(), local.Minute(), local.Second())

	entries := make([]Entry, 0, len(Steps)*len(domain.Channels))
	for _, step := range Steps {
		year, month, day := time.Date(local.Year(), local.Month(), local.Day()+step, 0, 0, 0, 0, time.UTC).Date()
		sendAt := localToInstant(year, month, day, hour, minute, second, loc)
		for _, channel := range domain.Channels {
			entries = append(entries, Entry{
				StepNumber:  step,
				Channel:     channel,
				TemplateKey: TemplateKey(step),
				SendAt:      sendAt,
			})
		}
	}
	return entries
}

// Earliest returns the first send time in entries.
func Earliest(entries []Entry) (time.Time, bool) {
	var earliest time.Time
	for i, e := range entries {
		if i == 0 || e.SendAt.Before(earliest) {
			earliest = e.SendAt
		}
	}
	return earliest, len(entries) > 0
}

// IsWithinSendWindow reports whether at falls inside [09:00, 18:00] local,
// compared at minute granularity.
func IsWithinSendWindow(at time.Time, tz string) bool {
	local := at.In(Location(tz))
	m := local.Hour()*60 + local.Minute()
	return m >= windowStartMinute && m <= windowEndMinute
}

// NextSendWindowStart returns 09:00 local on the same day, or on the next
// day when at is already past the window.
func NextSendWindowStart(at time.Time, tz string) time.Time {
	loc := Location(tz)
	local := at.In(loc)
	dayOffset := 0
	if local.Hour()*60+local.Minute() > windowEndMinute {
		dayOffset = 1
	}
	year, month, day := time.Date(local.Year(), local.Month(), local.Day()+dayOffset, 0, 0, 0, 0, time.UTC).Date()
	return localToInstant(year, month, day, 9, 0, 0, loc)
}

// RetryDelay is the backoff before the given retry attempt.
func RetryDelay(nextRetryCount int) time.Duration {
	switch {
	case nextRetryCount <= 1:
		return 15 * time.Minute
	case nextRetryCount == 2:
		return 60 * time.Minute
	default:
		return 180 * time.Minute
	}
}

// ApplyRetryDelay adds the backoff to now and pushes the result into the next
// send window when it falls outside.
func ApplyRetryDelay(now time.Time, tz string, nextRetryCount int) time.Time {
	delayed := now.Add(RetryDelay(nextRetryCount))
	if IsWithinSendWindow(delayed, tz) {
		return delayed
	}
	return NextSendWindowStart(delayed, tz)
}

// LocalDate renders the local calendar date of at as YYYY-MM-DD.
func LocalDate(at time.Time, tz string) string {
	return at.In(Location(tz)).Format(time.DateOnly)
}

func clampClock(hour, minute, second int) (int, int, int) {
	m := hour*60 + minute
	switch {
	case m < windowStartMinute:
		return 9, 0, 0
	case m > windowEndMinute:
		return 18, 0, 0
	default:
		return hour, minute, second
	}
}

// localToInstant converts a wall-clock time in loc to an absolute instant.
// The zone offset is sampled at a first UTC guess and then re-checked at the
// resolved instant so times near a DST switch pick the offset in force there.
func localToInstant(year int, month time.Month, day, hour, minute, second int, loc *time.Location) time.Time {
	guess := time.Date(year, month, day, hour, minute, second, 0, time.UTC)

	first := offsetAt(guess, loc)
	resolved := guess.Add(-first)

	if recheck := offsetAt(resolved, loc); recheck != first {
		resolved = guess.Add(-recheck)
	}
	return resolved.UTC()
}

func offsetAt(t time.Time, loc *time.Location) time.Duration {
	_, offset := t.In(loc).Zone()
	return time.Duration(offset) * time.Second
}
