// Package transitions maintains the per-person, per-context-bucket table of
// action→action confidences.
package transitions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// lastEvent is the per-person tail of the observed sequence, used to decide
// whether the next event continues a session.
type lastEvent struct {
	action string
	bucket string
	at     time.Time
}

// Learner reinforces or creates ActionTransitions as events arrive. A
// transition is only recorded when the person's prior event falls inside the
// session window and shares the context bucket; otherwise the current event
// just seeds the next sequence.
type Learner struct {
	repo   store.Transitions
	pol    policy.Snapshot
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]lastEvent
}

// NewLearner returns a Learner using the given repository and policy.
func NewLearner(repo store.Transitions, pol policy.Snapshot, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		repo:   repo,
		pol:    pol,
		logger: logger.With("component", "transitions"),
		last:   make(map[string]lastEvent),
	}
}

// Observe processes one event. It returns the created or reinforced
// transition, or nil when no session-window match exists.
func (l *Learner) Observe(ctx context.Context, ev *events.ActionEvent, bucketKey string) (*types.ActionTransition, error) {
	prior, ok := l.swapLast(ev, bucketKey)
	if !ok {
		return nil, nil
	}
	if ev.Timestamp.Sub(prior.at) > l.pol.SessionWindow() || prior.bucket != bucketKey {
		return nil, nil
	}
	var result *types.ActionTransition
	err := store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		t, err := l.repo.GetByKey(ctx, ev.PersonID, prior.action, ev.ActionType, bucketKey)
		switch {
		case errors.Is(err, store.ErrNotFound):
			t = &types.ActionTransition{
				ID:               uuid.NewString(),
				PersonID:         ev.PersonID,
				FromAction:       prior.action,
				ToAction:         ev.ActionType,
				BucketKey:        bucketKey,
				Confidence:       l.pol.Learning.DefaultTransitionConfidence,
				ObservationCount: 1,
				FirstSeen:        ev.Timestamp,
				LastSeen:         ev.Timestamp,
			}
			if err := l.repo.Add(ctx, t); err != nil {
				return fmt.Errorf("transitions: add: %w", err)
			}
			result = t
			return nil
		case err != nil:
			return fmt.Errorf("transitions: lookup: %w", err)
		}
		t.Confidence = reinforced(t.Confidence, l.pol.Learning.ConfidenceAlpha, true)
		t.ObservationCount++
		t.LastSeen = ev.Timestamp
		if err := l.repo.Update(ctx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("transition observed",
		"person", ev.PersonID,
		"from", prior.action,
		"to", ev.ActionType,
		"bucket", bucketKey,
		"confidence", result.Confidence)
	return result, nil
}

// swapLast records the event as the person's newest sequence tail and
// returns the previous one.
func (l *Learner) swapLast(ev *events.ActionEvent, bucketKey string) (lastEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prior, ok := l.last[ev.PersonID]
	l.last[ev.PersonID] = lastEvent{action: ev.ActionType, bucket: bucketKey, at: ev.Timestamp}
	return prior, ok
}

// Reinforce applies explicit feedback to a stored transition: positive moves
// confidence toward 1, negative decays it toward 0. Confidence stays in
// [0,1]; rows are never deleted.
func (l *Learner) Reinforce(ctx context.Context, id string, positive bool) (*types.ActionTransition, error) {
	var result *types.ActionTransition
	err := store.Retry(ctx, store.DefaultRetryAttempts, func(ctx context.Context) error {
		t, err := l.repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("transitions: get %s: %w", id, err)
		}
		t.Confidence = reinforced(t.Confidence, l.pol.Learning.ConfidenceAlpha, positive)
		if err := l.repo.Update(ctx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
}

// reinforced applies the EMA step. Positive: c += α(1−c); negative: c −= αc.
func reinforced(c, alpha float64, positive bool) float64 {
	if positive {
		return types.Clamp01(c + alpha*(1-c))
	}
	return types.Clamp01(c - alpha*c)
}
