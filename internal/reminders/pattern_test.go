package reminders

import (
	"fmt"
	"testing"
	"time"

	"github.com/Andriy31193/aipatterner/internal/types"
)

func candidateWithDays(days ...string) *types.ReminderCandidate {
	c := &types.ReminderCandidate{
		PatternStatus: types.PatternUnknown,
		ObservedDays:  map[string]bool{},
	}
	for _, d := range days {
		ts, err := time.Parse(dayFormat, d)
		if err != nil {
			panic(err)
		}
		c.EvidenceCount++
		c.ObservedDays[d] = true
		dow := int(ts.Weekday())
		c.DOWHistogram[dow]++
		year, week := ts.ISOWeek()
		c.DOWWeeks[dow] = append(c.DOWWeeks[dow], fmt.Sprintf("%d-W%02d", year, week))
	}
	return c
}

func TestInferClassification(t *testing.T) {
	tests := []struct {
		name string
		c    *types.ReminderCandidate
		want types.PatternStatus
	}{
		{
			name: "single occurrence stays unknown",
			c:    candidateWithDays("2026-03-02"),
			want: types.PatternUnknown,
		},
		{
			name: "two occurrences same day stay unknown",
			c: func() *types.ReminderCandidate {
				c := candidateWithDays("2026-03-02")
				c.EvidenceCount = 2
				return c
			}(),
			want: types.PatternUnknown,
		},
		{
			name: "two distinct days become flexible",
			c:    candidateWithDays("2026-03-02", "2026-03-05"),
			want: types.PatternFlexible,
		},
		{
			name: "three consecutive days become daily",
			c:    candidateWithDays("2026-03-02", "2026-03-03", "2026-03-04"),
			want: types.PatternDaily,
		},
		{
			name: "gap breaks the daily run",
			c:    candidateWithDays("2026-03-02", "2026-03-03", "2026-03-05"),
			want: types.PatternFlexible,
		},
		{
			// Mondays across four ISO weeks.
			name: "same weekday across weeks becomes weekly",
			c:    candidateWithDays("2026-03-02", "2026-03-09", "2026-03-16", "2026-03-23"),
			want: types.PatternWeekly,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Infer(tt.c)
			if tt.c.PatternStatus != tt.want {
				t.Errorf("pattern = %s, want %s", tt.c.PatternStatus, tt.want)
			}
		})
	}
}

func TestInferWeeklySetsWeekday(t *testing.T) {
	c := candidateWithDays("2026-03-02", "2026-03-09", "2026-03-16")
	Infer(c)
	if c.PatternStatus != types.PatternWeekly {
		t.Fatalf("pattern = %s, want weekly", c.PatternStatus)
	}
	if c.InferredWeekday == nil || *c.InferredWeekday != time.Monday {
		t.Errorf("inferredWeekday = %v, want Monday", c.InferredWeekday)
	}
}

func TestInferWeeklyNeedsDistinctWeeks(t *testing.T) {
	// Three Monday entries but only one distinct ISO week label.
	c := candidateWithDays("2026-03-02")
	c.EvidenceCount = 3
	c.DOWHistogram[int(time.Monday)] = 3
	c.ObservedDays["2026-03-03"] = true
	Infer(c)
	if c.PatternStatus == types.PatternWeekly {
		t.Error("weekly requires at least 3 distinct weeks on the weekday")
	}
}

func TestInferNeverRegresses(t *testing.T) {
	c := candidateWithDays("2026-03-02", "2026-03-03", "2026-03-04")
	Infer(c)
	if c.PatternStatus != types.PatternDaily {
		t.Fatalf("setup: pattern = %s, want daily", c.PatternStatus)
	}
	// a sparse week later must not demote the class
	c.EvidenceCount++
	c.ObservedDays["2026-03-20"] = true
	Infer(c)
	if c.PatternStatus != types.PatternDaily {
		t.Errorf("pattern regressed to %s after later sparse evidence", c.PatternStatus)
	}
}

func TestOccurrenceText(t *testing.T) {
	wed := time.Wednesday
	tests := []struct {
		name string
		c    *types.ReminderCandidate
		want string
	}{
		{
			name: "daily",
			c: &types.ReminderCandidate{
				PatternStatus:    types.PatternDaily,
				TimeWindowCenter: 20*time.Hour + 15*time.Minute,
			},
			want: "daily around 20:15",
		},
		{
			name: "weekly",
			c: &types.ReminderCandidate{
				PatternStatus:    types.PatternWeekly,
				InferredWeekday:  &wed,
				TimeWindowCenter: 7*time.Hour + 30*time.Minute,
			},
			want: "every Wednesday around 07:30",
		},
		{
			name: "flexible with bucket",
			c: func() *types.ReminderCandidate {
				c := &types.ReminderCandidate{
					PatternStatus:    types.PatternFlexible,
					TimeWindowCenter: 18 * time.Hour,
				}
				c.Context.TimeBucket = "evening"
				return c
			}(),
			want: "flexible, around 18:00 in the evening",
		},
		{
			name: "unknown",
			c: &types.ReminderCandidate{
				PatternStatus:    types.PatternUnknown,
				TimeWindowCenter: 9 * time.Hour,
			},
			want: "around 09:00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OccurrenceText(tt.c); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
