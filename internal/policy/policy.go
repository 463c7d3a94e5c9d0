// Package policy holds the read-only learning and matching policy consumed
// by the engine. Policies live in a TOML file of category tables; every key
// has a documented default so an absent file is a valid configuration.
//
// The engine receives an immutable Snapshot per construction rather than a
// live store, keeping evaluation deterministic and testable.
package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Matching controls the hard filters and gates of the reminder matcher.
type Matching struct {
	// Each toggle enables one hard criterion. Only action-type equality is
	// required by default.
	ByActionType    bool `toml:"matchByActionType"`
	ByDayType       bool `toml:"matchByDayType"`
	ByPeoplePresent bool `toml:"matchByPeoplePresent"`
	ByStateSignals  bool `toml:"matchByStateSignals"`
	ByTimeBucket    bool `toml:"matchByTimeBucket"`
	ByLocation      bool `toml:"matchByLocation"`

	// TimeOffsetMinutes bounds the wrap-aware time-of-day distance between
	// an event and a candidate before the candidate is even considered.
	TimeOffsetMinutes int `toml:"timeOffsetMinutes"`
}

// Learning holds the online-statistics step sizes.
type Learning struct {
	// ConfidenceAlpha is the EMA step for transition reinforcement and for
	// signal profile updates.
	ConfidenceAlpha float64 `toml:"confidenceAlpha"`

	// DefaultTransitionConfidence seeds a newly observed transition.
	DefaultTransitionConfidence float64 `toml:"defaultTransitionConfidence"`

	// DefaultReminderConfidence seeds a newly created reminder candidate.
	DefaultReminderConfidence float64 `toml:"defaultReminderConfidence"`

	// ProbabilityIncreaseStep / ProbabilityDecreaseStep are the additive
	// confidence adjustments on positive / negative evidence.
	ProbabilityIncreaseStep float64 `toml:"probabilityIncreaseStep"`
	ProbabilityDecreaseStep float64 `toml:"probabilityDecreaseStep"`

	// TimeCenterAlpha is the circular EMA step for a reminder's
	// time-of-day window center.
	TimeCenterAlpha float64 `toml:"timeCenterAlpha"`

	// SessionWindowMinutes bounds how far back transition learning looks
	// for the prior event of the same person and bucket.
	SessionWindowMinutes int `toml:"sessionWindowMinutes"`

	// ExecuteAutoThreshold is the confidence above which a reminder is
	// eligible for proposal without explicit request. The engine itself
	// never actuates; this only gates what the dispatcher publishes.
	ExecuteAutoThreshold float64 `toml:"executeAutoThreshold"`
}

// Signals configures signal selection, normalization, and similarity.
type Signals struct {
	// SimilarityThreshold is the minimum weighted similarity for a
	// candidate with an established baseline to accept a match.
	SimilarityThreshold float64 `toml:"similarityThreshold"`

	// SelectionLimit caps how many incoming sensors are considered,
	// keeping the most important ones.
	SelectionLimit int `toml:"selectionLimit"`

	// Ranges maps a sensor id to its [min, max] numeric range for
	// normalization. Sensors without an entry use DefaultRange.
	Ranges map[string][2]float64 `toml:"ranges"`

	// DefaultRange normalizes numeric sensors with no configured range.
	DefaultRange [2]float64 `toml:"defaultRange"`
}

// Routines configures observation windows and delay statistics.
type Routines struct {
	// ObservationWindowMinutes is how long actions after a state-change
	// intent are attributed to its routine.
	ObservationWindowMinutes int `toml:"observationWindowMinutes"`

	// MADMultiple tags a delay sample as outlier when it deviates from the
	// median by more than MADMultiple times the median absolute deviation.
	MADMultiple float64 `toml:"madMultiple"`

	// MinOutlierCutoffSeconds is the floor on the outlier cutoff so early
	// tight clusters do not flag ordinary jitter.
	MinOutlierCutoffSeconds float64 `toml:"minOutlierCutoffSeconds"`
}

// Cooldown configures suppression after negative feedback.
type Cooldown struct {
	DurationMinutes int `toml:"durationMinutes"`
}

// Snapshot is the complete, immutable policy set handed to the engine.
type Snapshot struct {
	BucketTemplate string   `toml:"bucketTemplate"`
	Matching       Matching `toml:"matching"`
	Learning       Learning `toml:"learning"`
	Signals        Signals  `toml:"signals"`
	Routines       Routines `toml:"routines"`
	Cooldown       Cooldown `toml:"cooldown"`
}

// Default returns the documented defaults for every policy key.
func Default() Snapshot {
	return Snapshot{
		BucketTemplate: "{dayType}*{timeBucket}*{location}",
		Matching: Matching{
			ByActionType:      true,
			TimeOffsetMinutes: 30,
		},
		Learning: Learning{
			ConfidenceAlpha:             0.1,
			DefaultTransitionConfidence: 0.5,
			DefaultReminderConfidence:   0.5,
			ProbabilityIncreaseStep:     0.1,
			ProbabilityDecreaseStep:     0.1,
			TimeCenterAlpha:             0.1,
			SessionWindowMinutes:        30,
			ExecuteAutoThreshold:        0.8,
		},
		Signals: Signals{
			SimilarityThreshold: 0.7,
			SelectionLimit:      10,
			DefaultRange:        [2]float64{0, 100},
		},
		Routines: Routines{
			ObservationWindowMinutes: 45,
			MADMultiple:              3.5,
			MinOutlierCutoffSeconds:  300,
		},
		Cooldown: Cooldown{
			DurationMinutes: 120,
		},
	}
}

// LoadFile decodes a TOML policy file over the defaults. A missing file is
// not an error; it yields the defaults unchanged.
func LoadFile(path string) (Snapshot, error) {
	snap := Default()
	if path == "" {
		return snap, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return snap, nil
	}
	if _, err := toml.DecodeFile(path, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("policy: decode %s: %w", path, err)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("policy: %s: %w", path, err)
	}
	return snap, nil
}

// Validate checks value ranges; steps and thresholds must stay inside [0,1].
func (s Snapshot) Validate() error {
	unit := map[string]float64{
		"confidenceAlpha":             s.Learning.ConfidenceAlpha,
		"defaultTransitionConfidence": s.Learning.DefaultTransitionConfidence,
		"defaultReminderConfidence":   s.Learning.DefaultReminderConfidence,
		"probabilityIncreaseStep":     s.Learning.ProbabilityIncreaseStep,
		"probabilityDecreaseStep":     s.Learning.ProbabilityDecreaseStep,
		"timeCenterAlpha":             s.Learning.TimeCenterAlpha,
		"executeAutoThreshold":        s.Learning.ExecuteAutoThreshold,
		"similarityThreshold":         s.Signals.SimilarityThreshold,
	}
	for key, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %g", key, v)
		}
	}
	if s.Matching.TimeOffsetMinutes <= 0 {
		return fmt.Errorf("timeOffsetMinutes must be positive, got %d", s.Matching.TimeOffsetMinutes)
	}
	if s.Signals.SelectionLimit <= 0 {
		return fmt.Errorf("selectionLimit must be positive, got %d", s.Signals.SelectionLimit)
	}
	if s.Routines.ObservationWindowMinutes <= 0 {
		return fmt.Errorf("observationWindowMinutes must be positive, got %d", s.Routines.ObservationWindowMinutes)
	}
	if s.Routines.MADMultiple <= 0 {
		return fmt.Errorf("madMultiple must be positive, got %g", s.Routines.MADMultiple)
	}
	return nil
}

// SessionWindow returns the session window as a duration.
func (s Snapshot) SessionWindow() time.Duration {
	return time.Duration(s.Learning.SessionWindowMinutes) * time.Minute
}

// TimeOffset returns the matching time gate as a duration.
func (s Snapshot) TimeOffset() time.Duration {
	return time.Duration(s.Matching.TimeOffsetMinutes) * time.Minute
}

// ObservationWindow returns the routine window as a duration.
func (s Snapshot) ObservationWindow() time.Duration {
	return time.Duration(s.Routines.ObservationWindowMinutes) * time.Minute
}

// CooldownDuration returns the suppression span as a duration.
func (s Snapshot) CooldownDuration() time.Duration {
	return time.Duration(s.Cooldown.DurationMinutes) * time.Minute
}

// SignalRange returns the normalization range for a sensor.
func (s Snapshot) SignalRange(sensorID string) (min, max float64) {
	if r, ok := s.Signals.Ranges[sensorID]; ok && r[1] > r[0] {
		return r[0], r[1]
	}
	if s.Signals.DefaultRange[1] > s.Signals.DefaultRange[0] {
		return s.Signals.DefaultRange[0], s.Signals.DefaultRange[1]
	}
	return 0, 100
}
