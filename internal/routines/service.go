package routines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// Service is the per-person observation-window state machine. A StateChange
// event of some intent opens (or refreshes) that intent's window and force-
// closes every other window of the person; Action events inside an open
// window accumulate delay evidence on the routine's reminders.
//
// There are no timers: expiry is evaluated lazily against the timestamp of
// whatever event arrives next.
type Service struct {
	routines  store.Routines
	reminders store.RoutineReminders
	pol       policy.Snapshot
	logger    *slog.Logger
}

// NewService returns a Service over the given repositories and policy.
func NewService(routines store.Routines, reminders store.RoutineReminders, pol policy.Snapshot, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		routines:  routines,
		reminders: reminders,
		pol:       pol,
		logger:    logger.With("component", "routines"),
	}
}

// HandleEvent routes one event through the state machine. For Action events
// it returns the recorded/updated RoutineReminder, or nil when no window
// applies.
func (s *Service) HandleEvent(ctx context.Context, ev *events.ActionEvent) (*types.RoutineReminder, error) {
	switch ev.Type {
	case events.EventStateChange:
		return nil, s.openWindow(ctx, ev)
	case events.EventAction:
		return s.recordAction(ctx, ev)
	default:
		return nil, nil
	}
}

// openWindow finds or creates the routine for (person, intent), opens its
// observation window at the event time, and force-closes any other open
// window of the same person.
func (s *Service) openWindow(ctx context.Context, ev *events.ActionEvent) error {
	start := ev.Timestamp
	end := start.Add(s.pol.ObservationWindow())

	err := store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		r, err := s.routines.GetByPersonAndIntent(ctx, ev.PersonID, ev.ActionType)
		switch {
		case errors.Is(err, store.ErrNotFound):
			r = &types.Routine{
				ID:           uuid.NewString(),
				PersonID:     ev.PersonID,
				IntentType:   ev.ActionType,
				WindowStart:  &start,
				WindowEnd:    &end,
				WindowBucket: ev.Context.TimeBucket,
				CreatedAt:    ev.Timestamp,
				UpdatedAt:    ev.Timestamp,
			}
			if err := s.routines.Add(ctx, r); err != nil {
				return fmt.Errorf("routines: add: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("routines: lookup: %w", err)
		}
		r.WindowStart = &start
		r.WindowEnd = &end
		r.WindowBucket = ev.Context.TimeBucket
		r.UpdatedAt = ev.Timestamp
		return s.routines.Update(ctx, r)
	})
	if err != nil {
		return err
	}

	// cross-intent exclusivity: only one window per person may stay open
	others, err := s.routines.ListByPerson(ctx, ev.PersonID)
	if err != nil {
		return fmt.Errorf("routines: list: %w", err)
	}
	for _, other := range others {
		if other.IntentType == ev.ActionType || other.WindowStart == nil {
			continue
		}
		if err := s.closeWindow(ctx, other.ID, ev.Timestamp); err != nil {
			return err
		}
	}
	s.logger.Debug("observation window opened",
		"person", ev.PersonID, "intent", ev.ActionType, "bucket", ev.Context.TimeBucket)
	return nil
}

// recordAction attributes an Action event to the person's open window, if
// any. An event after the window's end closes the window and must not touch
// any reminder.
func (s *Service) recordAction(ctx context.Context, ev *events.ActionEvent) (*types.RoutineReminder, error) {
	open, err := s.openRoutine(ctx, ev.PersonID)
	if err != nil || open == nil {
		return nil, err
	}

	if ev.Timestamp.After(*open.WindowEnd) {
		if err := s.closeWindow(ctx, open.ID, ev.Timestamp); err != nil {
			return nil, err
		}
		return nil, nil
	}

	delay := ev.Timestamp.Sub(*open.WindowStart).Seconds()
	return s.upsertReminder(ctx, open, ev, delay)
}

// openRoutine returns the person's routine whose window is still marked open
// in storage, or nil.
func (s *Service) openRoutine(ctx context.Context, personID string) (*types.Routine, error) {
	rs, err := s.routines.ListByPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("routines: list: %w", err)
	}
	for _, r := range rs {
		if r.WindowStart != nil && r.WindowEnd != nil {
			return r, nil
		}
	}
	return nil, nil
}

func (s *Service) closeWindow(ctx context.Context, routineID string, now time.Time) error {
	return store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		r, err := s.routines.GetByID(ctx, routineID)
		if err != nil {
			return fmt.Errorf("routines: get %s: %w", routineID, err)
		}
		if r.WindowStart == nil {
			return nil
		}
		r.CloseWindow()
		r.UpdatedAt = now
		return s.routines.Update(ctx, r)
	})
}

// upsertReminder records a delay sample on the (routine, bucket, action)
// reminder, creating it on first occurrence. The sample is tagged as outlier
// against the median of the prior evidence; outliers are recorded, never
// discarded, and the median is recomputed over the full list.
func (s *Service) upsertReminder(ctx context.Context, routine *types.Routine, ev *events.ActionEvent, delaySeconds float64) (*types.RoutineReminder, error) {
	var result *types.RoutineReminder
	err := store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		rem, err := s.reminders.GetByRoutineAndBucket(ctx, routine.ID, routine.WindowBucket, ev.ActionType)
		switch {
		case errors.Is(err, store.ErrNotFound):
			rem = &types.RoutineReminder{
				ID:              uuid.NewString(),
				RoutineID:       routine.ID,
				SuggestedAction: ev.ActionType,
				Bucket:          routine.WindowBucket,
				Confidence:      s.pol.Learning.DefaultReminderConfidence,
				Delays: []types.DelaySample{{
					Seconds:    delaySeconds,
					ObservedAt: ev.Timestamp,
				}},
				MedianDelaySeconds: delaySeconds,
				ObservationCount:   1,
				CreatedAt:          ev.Timestamp,
				UpdatedAt:          ev.Timestamp,
			}
			if err := s.reminders.Add(ctx, rem); err != nil {
				return fmt.Errorf("routines: add reminder: %w", err)
			}
			result = rem
			return nil
		case err != nil:
			return fmt.Errorf("routines: lookup reminder: %w", err)
		}

		prior := make([]float64, len(rem.Delays))
		for i, d := range rem.Delays {
			prior[i] = d.Seconds
		}
		rem.Delays = append(rem.Delays, types.DelaySample{
			Seconds:    delaySeconds,
			IsOutlier:  IsOutlier(delaySeconds, prior, s.pol.Routines),
			ObservedAt: ev.Timestamp,
		})
		all := append(prior, delaySeconds)
		rem.MedianDelaySeconds = Median(all)
		rem.Confidence = types.Clamp01(rem.Confidence + s.pol.Learning.ProbabilityIncreaseStep)
		rem.ObservationCount++
		rem.UpdatedAt = ev.Timestamp
		if err := s.reminders.Update(ctx, rem); err != nil {
			return err
		}
		result = rem
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("routine action recorded",
		"person", ev.PersonID,
		"routine", routine.IntentType,
		"action", ev.ActionType,
		"delaySeconds", delaySeconds,
		"outlier", result.Delays[len(result.Delays)-1].IsOutlier)
	return result, nil
}

// HandleFeedback applies an immediate, window-independent confidence
// adjustment to a routine reminder, clamped to [0,1].
func (s *Service) HandleFeedback(ctx context.Context, reminderID string, positive bool, step float64, now time.Time) error {
	return store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		rem, err := s.reminders.GetByID(ctx, reminderID)
		if err != nil {
			return fmt.Errorf("routines: get reminder %s: %w", reminderID, err)
		}
		if positive {
			rem.Confidence = types.Clamp01(rem.Confidence + step)
		} else {
			rem.Confidence = types.Clamp01(rem.Confidence - step)
		}
		rem.UpdatedAt = now
		return s.reminders.Update(ctx, rem)
	})
}
