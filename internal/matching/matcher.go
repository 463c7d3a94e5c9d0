// Package matching decides whether an incoming event reinforces an existing
// reminder candidate, combining configurable hard criteria, a wrap-aware
// time-offset gate, and soft signal similarity.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/reminders"
	"github.com/Andriy31193/aipatterner/internal/signals"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// Matcher evaluates incoming events against a person's existing reminder
// candidates. At most one candidate is reinforced per event.
type Matcher struct {
	repo   store.Reminders
	sched  *reminders.Scheduler
	gate   signals.Policy
	pol    policy.Snapshot
	logger *slog.Logger
}

// NewMatcher wires the matcher over the reminder repository and scheduler.
func NewMatcher(repo store.Reminders, sched *reminders.Scheduler, pol policy.Snapshot, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		repo:   repo,
		sched:  sched,
		gate:   signals.NewPolicy(pol),
		pol:    pol,
		logger: logger.With("component", "matching"),
	}
}

// Match enumerates the person's active candidates and reinforces the single
// best one that passes every gate. It returns the reinforced candidate, or
// ok=false when nothing matched; a miss is a silent skip, never an error.
func (m *Matcher) Match(ctx context.Context, ev *events.ActionEvent, incoming []signals.Selected) (*types.ReminderCandidate, bool, error) {
	candidates, err := m.repo.GetByPerson(ctx, ev.PersonID, types.ReminderActive)
	if err != nil {
		return nil, false, fmt.Errorf("matching: list candidates: %w", err)
	}

	eventTOD := types.TimeOfDay(ev.Timestamp)
	var (
		winner *types.ReminderCandidate
		offset time.Duration
	)
	for _, c := range candidates {
		if !m.hardCriteriaPass(ev, c) {
			continue
		}
		d := types.TimeOfDayDiff(eventTOD, types.TimeOfDay(c.CheckAt))
		if d > m.pol.TimeOffset() {
			continue
		}
		if !m.gate.Accepts(c.Profile, incoming) {
			continue
		}
		if winner == nil || d < offset || (d == offset && c.CheckAt.After(winner.CheckAt)) {
			winner = c
			offset = d
		}
	}
	if winner == nil {
		return nil, false, nil
	}

	updated, err := m.sched.Reinforce(ctx, winner.ID, ev, incoming)
	if err != nil {
		return nil, false, err
	}
	m.logger.Debug("reminder matched",
		"person", ev.PersonID,
		"action", ev.ActionType,
		"reminder", updated.ID,
		"offsetMinutes", offset.Minutes())
	return updated, true, nil
}

// hardCriteriaPass applies the individually toggle-able equality filters.
func (m *Matcher) hardCriteriaPass(ev *events.ActionEvent, c *types.ReminderCandidate) bool {
	mp := m.pol.Matching
	if mp.ByActionType && ev.ActionType != c.SuggestedAction {
		return false
	}
	if mp.ByDayType && ev.Context.DayType != c.Context.DayType {
		return false
	}
	if mp.ByPeoplePresent && !events.SamePeople(ev.Context.PresentPeople, c.Context.PresentPeople) {
		return false
	}
	if mp.ByStateSignals && !events.SameStateSignals(ev.Context.StateSignals, c.Context.StateSignals) {
		return false
	}
	if mp.ByTimeBucket && ev.Context.TimeBucket != c.Context.TimeBucket {
		return false
	}
	if mp.ByLocation && ev.Context.Location != c.Context.Location {
		return false
	}
	return true
}
