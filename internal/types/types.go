// Package types provides the learned-aggregate types shared across
// AIPatterner packages to avoid import cycles between the stores, the
// learning services, and the engine.
package types

import (
	"time"

	"github.com/Andriy31193/aipatterner/internal/events"
)

// Clamp01 bounds a confidence or similarity score to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ActionTransition is one learned (fromAction → toAction) edge conditioned
// on a context bucket. Rows are never deleted; confidence only decays via
// explicit negative feedback.
type ActionTransition struct {
	ID               string    `json:"id"`
	PersonID         string    `json:"personId"`
	FromAction       string    `json:"fromAction"`
	ToAction         string    `json:"toAction"`
	BucketKey        string    `json:"contextBucketKey"`
	Confidence       float64   `json:"confidence"`
	ObservationCount int       `json:"observationCount"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	Version          int64     `json:"version"`
}

// SignalBaseline is the per-sensor entry of a SignalProfile.
type SignalBaseline struct {
	Weight     float64 `json:"weight"`
	Normalized float64 `json:"normalizedValue"`
	// Reference keeps the raw categorical value for text sensors so later
	// readings can be compared for exact match.
	Reference string `json:"reference,omitempty"`
}

// SignalProfile is the weighted, EMA-updated baseline of normalized sensor
// readings attached to a reminder. Capped to the top-K most important
// sensors by the selector.
type SignalProfile struct {
	Sensors     map[string]SignalBaseline `json:"sensors"`
	SampleCount int                       `json:"sampleCount"`
	LastUpdated time.Time                 `json:"lastUpdated"`
}

// PatternStatus classifies the recurrence of a reminder candidate.
type PatternStatus string

const (
	PatternUnknown  PatternStatus = "unknown"
	PatternFlexible PatternStatus = "flexible"
	PatternDaily    PatternStatus = "daily"
	PatternWeekly   PatternStatus = "weekly"
)

// ReminderStatus is the lifecycle state of a reminder candidate.
type ReminderStatus string

const (
	ReminderActive    ReminderStatus = "active"
	ReminderDismissed ReminderStatus = "dismissed"
)

// ReminderCandidate is a proposed recurring action for one person. There is
// at most one candidate per person+action+time-window; every accepted
// occurrence mutates it in place.
type ReminderCandidate struct {
	ID              string              `json:"id"`
	PersonID        string              `json:"personId"`
	SuggestedAction string              `json:"suggestedAction"`
	CheckAt         time.Time           `json:"checkAtUtc"`
	Confidence      float64             `json:"confidence"`
	Status          ReminderStatus      `json:"status"`
	Occurrence      string              `json:"occurrence"`
	SourceEventID   string              `json:"sourceEventId"`
	TransitionID    string              `json:"transitionId,omitempty"`
	CustomData      map[string]string   `json:"customData,omitempty"`
	Context         events.EventContext `json:"context"`
	Profile         *SignalProfile      `json:"signalProfile,omitempty"`

	// TimeWindowCenter is the circular EMA of the time of day occurrences
	// happen at, as an offset from midnight UTC.
	TimeWindowCenter time.Duration `json:"timeWindowCenter"`

	EvidenceCount int `json:"evidenceCount"`
	// ObservedDays holds calendar days ("2006-01-02") with at least one
	// accepted occurrence.
	ObservedDays map[string]bool `json:"observedDays,omitempty"`
	// DOWHistogram counts accepted occurrences per weekday (Sunday = 0).
	DOWHistogram [7]int `json:"dayOfWeekHistogram"`
	// DOWWeeks records the distinct ISO weeks ("2026-W35") each weekday
	// was observed in, for the weekly-pattern span requirement.
	DOWWeeks [7][]string `json:"dayOfWeekWeeks,omitempty"`

	PatternStatus   PatternStatus `json:"patternInferenceStatus"`
	InferredWeekday *time.Weekday `json:"inferredWeekday,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// TimeOfDay returns t's offset from midnight UTC.
func TimeOfDay(t time.Time) time.Duration {
	t = t.UTC()
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// TimeOfDayDiff returns the wrap-aware distance between two time-of-day
// offsets; 23:50 and 00:10 are twenty minutes apart.
func TimeOfDayDiff(a, b time.Duration) time.Duration {
	const day = 24 * time.Hour
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > day/2 {
		d = day - d
	}
	return d
}

// Routine anchors observation windows to a state-change intent. At most one
// routine per person has an open window at any instant.
type Routine struct {
	ID         string `json:"id"`
	PersonID   string `json:"personId"`
	IntentType string `json:"intentType"`

	// WindowStart is nil when no observation window is open. WindowEnd and
	// WindowBucket are only meaningful while WindowStart is set.
	WindowStart  *time.Time `json:"observationWindowStart,omitempty"`
	WindowEnd    *time.Time `json:"observationWindowEnd,omitempty"`
	WindowBucket string     `json:"observationWindowBucket,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// IsObservationWindowOpen reports whether the window is open at now. A
// window that logically expired but was never touched still reports false
// here even though storage has not been updated yet.
func (r *Routine) IsObservationWindowOpen(now time.Time) bool {
	return r.WindowStart != nil && r.WindowEnd != nil && !now.After(*r.WindowEnd)
}

// CloseWindow clears the observation window; the routine row persists.
func (r *Routine) CloseWindow() {
	r.WindowStart = nil
	r.WindowEnd = nil
	r.WindowBucket = ""
}

// DelaySample is one observed delay between a routine's window start and a
// subsequent action. Outliers are recorded, never discarded.
type DelaySample struct {
	Seconds    float64   `json:"seconds"`
	IsOutlier  bool      `json:"isOutlier"`
	ObservedAt time.Time `json:"observedAt"`
}

// RoutineReminder is a learned follow-up action for one routine and time
// bucket, reused across windows of the same intent and bucket.
type RoutineReminder struct {
	ID               string        `json:"id"`
	RoutineID        string        `json:"routineId"`
	SuggestedAction  string        `json:"suggestedAction"`
	Bucket           string        `json:"bucket"`
	Confidence       float64       `json:"confidence"`
	ObservationCount int           `json:"observationCount"`
	Delays           []DelaySample `json:"delayEvidence,omitempty"`
	// MedianDelaySeconds is recomputed over the full evidence list on every
	// new sample.
	MedianDelaySeconds float64 `json:"medianDelayApproxSeconds"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// ReminderCooldown suppresses one person+action pair until ExpiresAt.
// Created only by explicit "no" feedback.
type ReminderCooldown struct {
	ID         string    `json:"id"`
	PersonID   string    `json:"personId"`
	ActionType string    `json:"actionType"`
	ExpiresAt  time.Time `json:"expiresAtUtc"`
	CreatedAt  time.Time `json:"createdAt"`
	Version    int64     `json:"version"`
}
