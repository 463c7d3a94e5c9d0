package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/signals"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// Scheduler creates reminder candidates from qualifying occurrences and
// folds later accepted occurrences back into them.
type Scheduler struct {
	repo   store.Reminders
	pol    policy.Snapshot
	logger *slog.Logger
}

// NewScheduler returns a Scheduler over the given repository and policy.
func NewScheduler(repo store.Reminders, pol policy.Snapshot, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{repo: repo, pol: pol, logger: logger.With("component", "reminders")}
}

// Create builds a new candidate from the event's occurrence. The reminder
// "is" the observed occurrence: checkAt carries the event timestamp with no
// offset, and the first valid occurrence seeds the signal baseline
// unconditionally.
func (s *Scheduler) Create(ctx context.Context, ev *events.ActionEvent, transitionID string, incoming []signals.Selected) (*types.ReminderCandidate, error) {
	now := ev.Timestamp
	c := &types.ReminderCandidate{
		ID:               uuid.NewString(),
		PersonID:         ev.PersonID,
		SuggestedAction:  ev.ActionType,
		CheckAt:          now,
		Confidence:       s.pol.Learning.DefaultReminderConfidence,
		Status:           types.ReminderActive,
		SourceEventID:    ev.ID,
		TransitionID:     transitionID,
		CustomData:       ev.CustomData,
		Context:          ev.Context,
		TimeWindowCenter: types.TimeOfDay(now),
		ObservedDays:     map[string]bool{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.applyEvidence(c, now)
	if len(incoming) > 0 {
		c.Profile = signals.UpdateProfile(nil, incoming, s.pol.Learning.ConfidenceAlpha, s.pol.Signals.SelectionLimit, now)
	}
	Infer(c)
	c.Occurrence = OccurrenceText(c)

	if err := s.repo.Add(ctx, c); err != nil {
		return nil, fmt.Errorf("reminders: add candidate: %w", err)
	}
	s.logger.Debug("reminder candidate created",
		"person", ev.PersonID, "action", ev.ActionType, "id", c.ID)
	return c, nil
}

// Reinforce folds an accepted occurrence into the candidate: confidence
// steps up, evidence bookkeeping advances, the time window center moves by
// circular EMA, and the recurrence pattern is re-inferred. It retries on
// write conflicts by re-reading and re-applying.
func (s *Scheduler) Reinforce(ctx context.Context, id string, ev *events.ActionEvent, incoming []signals.Selected) (*types.ReminderCandidate, error) {
	var result *types.ReminderCandidate
	err := store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		c, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("reminders: get %s: %w", id, err)
		}
		prob := s.pol.Learning.ProbabilityIncreaseStep
		if ev.ProbabilityHint != nil {
			prob = *ev.ProbabilityHint
		}
		c.Confidence = types.Clamp01(c.Confidence + prob)
		c.CheckAt = ev.Timestamp
		s.applyEvidence(c, ev.Timestamp)
		if len(incoming) > 0 {
			c.Profile = signals.UpdateProfile(c.Profile, incoming, s.pol.Learning.ConfidenceAlpha, s.pol.Signals.SelectionLimit, ev.Timestamp)
		}
		Infer(c)
		c.Occurrence = OccurrenceText(c)
		c.UpdatedAt = ev.Timestamp
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	return result, err
}

// AdjustConfidence applies explicit feedback to a candidate: a positive
// step moves confidence up by ProbabilityIncreaseStep, a negative one down
// by ProbabilityDecreaseStep, clamped to [0,1]. Evidence bookkeeping is
// untouched; feedback is not an occurrence.
func (s *Scheduler) AdjustConfidence(ctx context.Context, id string, positive bool, now time.Time) (*types.ReminderCandidate, error) {
	var result *types.ReminderCandidate
	err := store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		c, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("reminders: get %s: %w", id, err)
		}
		if positive {
			c.Confidence = types.Clamp01(c.Confidence + s.pol.Learning.ProbabilityIncreaseStep)
		} else {
			c.Confidence = types.Clamp01(c.Confidence - s.pol.Learning.ProbabilityDecreaseStep)
		}
		c.UpdatedAt = now
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	return result, err
}

// applyEvidence advances the occurrence bookkeeping: evidence count, the
// observed-day set, the weekday histogram with its ISO-week spans, and the
// circular EMA of the time-of-day center.
func (s *Scheduler) applyEvidence(c *types.ReminderCandidate, ts time.Time) {
	ts = ts.UTC()
	c.EvidenceCount++

	if c.ObservedDays == nil {
		c.ObservedDays = map[string]bool{}
	}
	c.ObservedDays[ts.Format(dayFormat)] = true

	dow := int(ts.Weekday())
	c.DOWHistogram[dow]++
	year, week := ts.ISOWeek()
	label := fmt.Sprintf("%d-W%02d", year, week)
	known := false
	for _, w := range c.DOWWeeks[dow] {
		if w == label {
			known = true
			break
		}
	}
	if !known {
		c.DOWWeeks[dow] = append(c.DOWWeeks[dow], label)
	}

	sample := types.TimeOfDay(ts)
	if c.EvidenceCount == 1 {
		c.TimeWindowCenter = sample
		return
	}
	c.TimeWindowCenter = circularEMA(c.TimeWindowCenter, sample, s.pol.Learning.TimeCenterAlpha)
}

// circularEMA moves center toward sample by alpha along the shorter arc of
// the 24h clock, so occurrences around midnight average correctly.
func circularEMA(center, sample time.Duration, alpha float64) time.Duration {
	const day = 24 * time.Hour
	diff := sample - center
	if diff > day/2 {
		diff -= day
	} else if diff < -day/2 {
		diff += day
	}
	center += time.Duration(alpha * float64(diff))
	center %= day
	if center < 0 {
		center += day
	}
	return center
}
