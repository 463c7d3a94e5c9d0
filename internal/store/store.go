// Package store defines the repository collaborators the learning engine
// persists its aggregates through, plus in-memory and SQLite-backed
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Andriy31193/aipatterner/internal/types"
)

var (
	// ErrNotFound is returned when no row matches the requested key.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an optimistic update lost a race with a
	// concurrent writer. Callers re-read and re-apply.
	ErrConflict = errors.New("store: write conflict")
)

// Filter narrows list queries. Zero fields are ignored. Page is 1-based;
// PageSize 0 means no pagination.
type Filter struct {
	PersonID string
	Status   string
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	PageSize int
}

// Transitions stores learned action transitions.
type Transitions interface {
	Add(ctx context.Context, t *types.ActionTransition) error
	Update(ctx context.Context, t *types.ActionTransition) error
	GetByID(ctx context.Context, id string) (*types.ActionTransition, error)
	GetByKey(ctx context.Context, personID, fromAction, toAction, bucketKey string) (*types.ActionTransition, error)
	GetFiltered(ctx context.Context, f Filter) ([]*types.ActionTransition, error)
}

// Reminders stores reminder candidates.
type Reminders interface {
	Add(ctx context.Context, r *types.ReminderCandidate) error
	Update(ctx context.Context, r *types.ReminderCandidate) error
	GetByID(ctx context.Context, id string) (*types.ReminderCandidate, error)
	GetBySourceEventID(ctx context.Context, eventID string) (*types.ReminderCandidate, error)
	// GetByPerson lists a person's candidates with the given status;
	// an empty status lists all of them.
	GetByPerson(ctx context.Context, personID string, status types.ReminderStatus) ([]*types.ReminderCandidate, error)
	GetFiltered(ctx context.Context, f Filter) ([]*types.ReminderCandidate, error)
}

// Routines stores intent-anchored routines.
type Routines interface {
	Add(ctx context.Context, r *types.Routine) error
	Update(ctx context.Context, r *types.Routine) error
	GetByID(ctx context.Context, id string) (*types.Routine, error)
	GetByPersonAndIntent(ctx context.Context, personID, intentType string) (*types.Routine, error)
	ListByPerson(ctx context.Context, personID string) ([]*types.Routine, error)
}

// RoutineReminders stores learned routine follow-ups.
type RoutineReminders interface {
	Add(ctx context.Context, r *types.RoutineReminder) error
	Update(ctx context.Context, r *types.RoutineReminder) error
	GetByID(ctx context.Context, id string) (*types.RoutineReminder, error)
	GetByRoutineAndBucket(ctx context.Context, routineID, bucket, action string) (*types.RoutineReminder, error)
	ListByRoutine(ctx context.Context, routineID string) ([]*types.RoutineReminder, error)
}

// Cooldowns stores negative-feedback suppression windows.
type Cooldowns interface {
	Upsert(ctx context.Context, c *types.ReminderCooldown) error
	// GetActive returns the unexpired cooldown for person+action at now,
	// or ErrNotFound.
	GetActive(ctx context.Context, personID, actionType string, now time.Time) (*types.ReminderCooldown, error)
}

// Store bundles the per-entity repositories behind one handle.
type Store interface {
	Transitions() Transitions
	Reminders() Reminders
	Routines() Routines
	RoutineReminders() RoutineReminders
	Cooldowns() Cooldowns
	Close() error
}

// DefaultRetryAttempts bounds optimistic-concurrency retries.
const DefaultRetryAttempts = 5

// Retry runs fn until it succeeds, fails with a non-conflict error, or the
// attempts are exhausted. fn is expected to re-read the aggregate on each
// attempt so a conflicting write is re-applied, never lost.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
