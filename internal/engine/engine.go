// Package engine wires the learning pipeline: every ingested event feeds
// transition learning, reminder scheduling/matching, and routine learning,
// each reading the event once and none mutating another's aggregates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Andriy31193/aipatterner/internal/contextkey"
	"github.com/Andriy31193/aipatterner/internal/cooldown"
	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/matching"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/reminders"
	"github.com/Andriy31193/aipatterner/internal/routines"
	"github.com/Andriy31193/aipatterner/internal/signals"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/transitions"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// Result reports what one ingested event touched. ReminderID refers to the
// matched or newly created general reminder candidate, when any.
type Result struct {
	EventID           string `json:"eventId"`
	BucketKey         string `json:"contextBucketKey"`
	TransitionID      string `json:"transitionId,omitempty"`
	ReminderID        string `json:"reminderId,omitempty"`
	Matched           bool   `json:"matched"`
	RoutineReminderID string `json:"routineReminderId,omitempty"`
}

// Answer is a person's reply to a proposed reminder.
type Answer string

const (
	AnswerYes   Answer = "yes"
	AnswerNo    Answer = "no"
	AnswerLater Answer = "later"
)

// Feedback carries one reply. ReminderID may name a general candidate or a
// routine reminder; the engine resolves which.
type Feedback struct {
	ReminderID string `json:"reminderId"`
	Answer     Answer `json:"answer"`
}

// Engine is the event-processing front of the learning core. Events for the
// same person are serialized; distinct people share no mutable state.
type Engine struct {
	pol       policy.Snapshot
	bucket    contextkey.Builder
	selector  signals.Selector
	learner   *transitions.Learner
	scheduler *reminders.Scheduler
	matcher   *matching.Matcher
	routines  *routines.Service
	cooldowns *cooldown.Service
	st        store.Store
	logger    *slog.Logger

	perPerson *keyedMutex
}

// New assembles an Engine over the given store and policy snapshot.
func New(st store.Store, pol policy.Snapshot, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	sched := reminders.NewScheduler(st.Reminders(), pol, logger)
	return &Engine{
		pol:       pol,
		bucket:    contextkey.New(pol.BucketTemplate),
		selector:  signals.NewSelector(pol),
		learner:   transitions.NewLearner(st.Transitions(), pol, logger),
		scheduler: sched,
		matcher:   matching.NewMatcher(st.Reminders(), sched, pol, logger),
		routines:  routines.NewService(st.Routines(), st.RoutineReminders(), pol, logger),
		cooldowns: cooldown.NewService(st.Cooldowns(), pol, logger),
		st:        st,
		logger:    logger.With("component", "engine"),
		perPerson: newKeyedMutex(),
	}
}

// IngestEvent processes one behavioral event through all consumers and
// returns what was learned. Events may be submitted concurrently; processing
// for one person is serialized, and people are fully isolated.
func (e *Engine) IngestEvent(ctx context.Context, ev *events.ActionEvent) (*Result, error) {
	if ev == nil {
		return nil, errors.New("engine: nil event")
	}
	if ev.PersonID == "" || ev.ActionType == "" {
		return nil, errors.New("engine: event requires personId and actionType")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Type == "" {
		ev.Type = events.EventAction
	}

	unlock := e.perPersonLock(ev.PersonID)
	defer unlock()

	res := &Result{EventID: ev.ID, BucketKey: e.bucket.Build(ev.Context)}
	selected := e.selector.Select(ev.Signals)

	transition, err := e.learner.Observe(ctx, ev, res.BucketKey)
	if err != nil {
		return nil, err
	}
	if transition != nil {
		res.TransitionID = transition.ID
	}

	suppressed, err := e.cooldowns.IsActive(ctx, ev.PersonID, ev.ActionType, ev.Timestamp)
	if err != nil {
		return nil, err
	}

	if !suppressed {
		matched, ok, err := e.matcher.Match(ctx, ev, selected)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			res.ReminderID = matched.ID
			res.Matched = true
		case transition != nil || ev.ProbabilityHint != nil:
			created, err := e.scheduler.Create(ctx, ev, res.TransitionID, selected)
			if err != nil {
				return nil, err
			}
			res.ReminderID = created.ID
		}
	}

	rr, err := e.routines.HandleEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	if rr != nil {
		res.RoutineReminderID = rr.ID
	}

	e.logger.Debug("event processed",
		"event", ev.ID,
		"person", ev.PersonID,
		"action", ev.ActionType,
		"bucket", res.BucketKey,
		"matched", res.Matched,
		"reminder", res.ReminderID)
	return res, nil
}

func (e *Engine) perPersonLock(personID string) func() {
	return e.perPerson.Lock(personID)
}

// HandleFeedback applies a person's reply. "yes" strengthens the reminder
// and its underlying transition; "no" weakens both and activates a
// cooldown; "later" changes nothing.
func (e *Engine) HandleFeedback(ctx context.Context, fb Feedback) error {
	if fb.ReminderID == "" {
		return errors.New("engine: feedback requires reminderId")
	}
	if fb.Answer == AnswerLater {
		return nil
	}
	positive := fb.Answer == AnswerYes
	if !positive && fb.Answer != AnswerNo {
		return fmt.Errorf("engine: unknown feedback answer %q", fb.Answer)
	}
	now := time.Now().UTC()

	c, err := e.st.Reminders().GetByID(ctx, fb.ReminderID)
	if err == nil {
		unlock := e.perPersonLock(c.PersonID)
		defer unlock()
		return e.applyReminderFeedback(ctx, c, positive, now)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("engine: feedback lookup: %w", err)
	}

	rr, err := e.st.RoutineReminders().GetByID(ctx, fb.ReminderID)
	if err != nil {
		return fmt.Errorf("engine: feedback lookup: %w", err)
	}
	routine, err := e.st.Routines().GetByID(ctx, rr.RoutineID)
	if err != nil {
		return fmt.Errorf("engine: feedback lookup routine: %w", err)
	}
	unlock := e.perPersonLock(routine.PersonID)
	defer unlock()

	step := e.pol.Learning.ProbabilityIncreaseStep
	if !positive {
		step = e.pol.Learning.ProbabilityDecreaseStep
	}
	if err := e.routines.HandleFeedback(ctx, rr.ID, positive, step, now); err != nil {
		return err
	}
	if !positive {
		return e.cooldowns.RecordNegativeFeedback(ctx, routine.PersonID, rr.SuggestedAction, now)
	}
	return nil
}

func (e *Engine) applyReminderFeedback(ctx context.Context, c *types.ReminderCandidate, positive bool, now time.Time) error {
	if _, err := e.scheduler.AdjustConfidence(ctx, c.ID, positive, now); err != nil {
		return err
	}
	if c.TransitionID != "" {
		if _, err := e.learner.Reinforce(ctx, c.TransitionID, positive); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	if !positive {
		return e.cooldowns.RecordNegativeFeedback(ctx, c.PersonID, c.SuggestedAction, now)
	}
	return nil
}
