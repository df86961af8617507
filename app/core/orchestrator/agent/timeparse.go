package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Natural time phrases understood by the rule strategy. Parsing is
// intentionally narrow: relative offsets, today/tomorrow with an
// optional clock time, and a bare clock time meaning the next
// occurrence.

var (
	relativeRe = regexp.MustCompile(`\bin\s+(\d+|a|an)\s+(minute|min|hour|hr|day)s?\b`)
	clockRe    = regexp.MustCompile(`\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	forSpanRe  = regexp.MustCompile(`\b(?:for|by)\s+(\d+|a|an)\s+(minute|min|hour|hr)s?\b`)
)

// defaultReminderHour is the clock time used when a day is named
// without a time, e.g. "tomorrow".
const defaultReminderHour = 9

// ParseWhen extracts a future instant from the text relative to now.
// It returns unix seconds and whether a phrase was recognized.
func ParseWhen(text string, now time.Time) (int64, bool) {
	lower := strings.ToLower(text)

	if m := relativeRe.FindStringSubmatch(lower); m != nil {
		n := wordCount(m[1])
		var span time.Duration
		switch m[2] {
		case "minute", "min":
			span = time.Duration(n) * time.Minute
		case "hour", "hr":
			span = time.Duration(n) * time.Hour
		case "day":
			span = time.Duration(n) * 24 * time.Hour
		}
		return now.Add(span).Unix(), true
	}

	dayOffset := 0
	hasDay := false
	switch {
	case strings.Contains(lower, "tomorrow"):
		dayOffset = 1
		hasDay = true
	case strings.Contains(lower, "today"), strings.Contains(lower, "tonight"):
		hasDay = true
	}

	if m := clockRe.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch m[3] {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		if hour > 23 || minute > 59 {
			return 0, false
		}
		at := time.Date(now.Year(), now.Month(), now.Day()+dayOffset, hour, minute, 0, 0, now.Location())
		// A bare clock time that already passed means the next day.
		if !hasDay && !at.After(now) {
			at = at.Add(24 * time.Hour)
		}
		return at.Unix(), true
	}

	if strings.Contains(lower, "tonight") {
		at := time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, now.Location())
		if !at.After(now) {
			at = at.Add(24 * time.Hour)
		}
		return at.Unix(), true
	}
	if hasDay {
		at := time.Date(now.Year(), now.Month(), now.Day()+dayOffset, defaultReminderHour, 0, 0, 0, now.Location())
		if !at.After(now) {
			at = at.Add(24 * time.Hour)
		}
		return at.Unix(), true
	}
	return 0, false
}

// ParseSpanMinutes extracts a duration in minutes from phrases like
// "for 15 minutes" or "by an hour".
func ParseSpanMinutes(text string) (int, bool) {
	lower := strings.ToLower(text)
	m := forSpanRe.FindStringSubmatch(lower)
	if m == nil {
		m = relativeRe.FindStringSubmatch(lower)
	}
	if m == nil {
		return 0, false
	}
	n := wordCount(m[1])
	switch m[2] {
	case "hour", "hr":
		return n * 60, true
	case "minute", "min":
		return n, true
	}
	return 0, false
}

func wordCount(s string) int {
	if s == "a" || s == "an" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
