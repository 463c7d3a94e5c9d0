// Package reminders turns accepted occurrences into scheduled reminder
// candidates and classifies their recurrence pattern.
package reminders

import (
	"fmt"
	"sort"
	"time"

	"github.com/Andriy31193/aipatterner/internal/types"
)

// dayFormat is the calendar-day key used in the observed-day set.
const dayFormat = "2006-01-02"

// Infer recomputes the recurrence classification from the candidate's
// accumulated evidence. The rule order is fixed and the result never
// regresses: once Daily or Weekly, later occurrences keep the class.
func Infer(c *types.ReminderCandidate) {
	switch c.PatternStatus {
	case types.PatternDaily, types.PatternWeekly:
		return
	}

	if c.EvidenceCount <= 1 {
		c.PatternStatus = types.PatternUnknown
		c.InferredWeekday = nil
		return
	}

	if hasConsecutiveRun(c.ObservedDays, 3) {
		c.PatternStatus = types.PatternDaily
		c.InferredWeekday = nil
		return
	}

	if dow, ok := weeklyWeekday(c); ok {
		c.PatternStatus = types.PatternWeekly
		c.InferredWeekday = &dow
		return
	}

	if len(c.ObservedDays) >= 2 {
		c.PatternStatus = types.PatternFlexible
		c.InferredWeekday = nil
		return
	}
	// repeated occurrences on a single day keep the current class
}

// hasConsecutiveRun reports whether the day set contains n consecutive
// calendar days, regardless of weekday.
func hasConsecutiveRun(days map[string]bool, n int) bool {
	if len(days) < n {
		return false
	}
	parsed := make([]time.Time, 0, len(days))
	for d := range days {
		t, err := time.Parse(dayFormat, d)
		if err != nil {
			continue
		}
		parsed = append(parsed, t)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Before(parsed[j]) })

	run := 1
	for i := 1; i < len(parsed); i++ {
		if parsed[i].Sub(parsed[i-1]) == 24*time.Hour {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// weeklyWeekday returns the weekday qualifying for the Weekly class: at
// least 3 occurrences on that weekday spanning at least 3 distinct ISO
// weeks. Ties resolve to the most-observed weekday, then the earliest.
func weeklyWeekday(c *types.ReminderCandidate) (time.Weekday, bool) {
	best := -1
	for d := 0; d < 7; d++ {
		if c.DOWHistogram[d] < 3 || len(c.DOWWeeks[d]) < 3 {
			continue
		}
		if best < 0 || c.DOWHistogram[d] > c.DOWHistogram[best] {
			best = d
		}
	}
	if best < 0 {
		return 0, false
	}
	return time.Weekday(best), true
}

// OccurrenceText renders the human-readable recurrence description for the
// candidate's current classification.
func OccurrenceText(c *types.ReminderCandidate) string {
	hhmm := formatCenter(c.TimeWindowCenter)
	switch c.PatternStatus {
	case types.PatternDaily:
		return fmt.Sprintf("daily around %s", hhmm)
	case types.PatternWeekly:
		dow := time.Monday
		if c.InferredWeekday != nil {
			dow = *c.InferredWeekday
		}
		return fmt.Sprintf("every %s around %s", dow, hhmm)
	case types.PatternFlexible:
		if c.Context.TimeBucket != "" {
			return fmt.Sprintf("flexible, around %s in the %s", hhmm, c.Context.TimeBucket)
		}
		return fmt.Sprintf("flexible, around %s", hhmm)
	default:
		return fmt.Sprintf("around %s", hhmm)
	}
}

func formatCenter(center time.Duration) string {
	center = center % (24 * time.Hour)
	if center < 0 {
		center += 24 * time.Hour
	}
	h := int(center / time.Hour)
	m := int(center/time.Minute) % 60
	return fmt.Sprintf("%02d:%02d", h, m)
}
