package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Andriy31193/aipatterner/internal/types"
)

// Memory is an in-process Store backed by mutex-guarded maps. It implements
// the same optimistic-versioning contract as the SQLite store, so engine
// retry paths behave identically in tests.
type Memory struct {
	transitions      memTransitions
	reminders        memReminders
	routines         memRoutines
	routineReminders memRoutineReminders
	cooldowns        memCooldowns
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		transitions:      memTransitions{rows: map[string]*types.ActionTransition{}},
		reminders:        memReminders{rows: map[string]*types.ReminderCandidate{}},
		routines:         memRoutines{rows: map[string]*types.Routine{}},
		routineReminders: memRoutineReminders{rows: map[string]*types.RoutineReminder{}},
		cooldowns:        memCooldowns{rows: map[string]*types.ReminderCooldown{}},
	}
}

func (m *Memory) Transitions() Transitions           { return &m.transitions }
func (m *Memory) Reminders() Reminders               { return &m.reminders }
func (m *Memory) Routines() Routines                 { return &m.routines }
func (m *Memory) RoutineReminders() RoutineReminders { return &m.routineReminders }
func (m *Memory) Cooldowns() Cooldowns               { return &m.cooldowns }
func (m *Memory) Close() error                       { return nil }

// clone deep-copies an aggregate so callers never alias stored state.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		cp := *v
		return &cp
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		cp := *v
		return &cp
	}
	return out
}

func paginate[T any](rows []*T, f Filter) []*T {
	if f.PageSize <= 0 {
		return rows
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * f.PageSize
	if start >= len(rows) {
		return nil
	}
	end := start + f.PageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

type memTransitions struct {
	mu   sync.RWMutex
	rows map[string]*types.ActionTransition
}

func (m *memTransitions) Add(_ context.Context, t *types.ActionTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Version = 1
	m.rows[t.ID] = clone(t)
	return nil
}

func (m *memTransitions) Update(_ context.Context, t *types.ActionTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[t.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != t.Version {
		return ErrConflict
	}
	t.Version++
	m.rows[t.ID] = clone(t)
	return nil
}

func (m *memTransitions) GetByID(_ context.Context, id string) (*types.ActionTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (m *memTransitions) GetByKey(_ context.Context, personID, fromAction, toAction, bucketKey string) (*types.ActionTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.rows {
		if t.PersonID == personID && t.FromAction == fromAction && t.ToAction == toAction && t.BucketKey == bucketKey {
			return clone(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memTransitions) GetFiltered(_ context.Context, f Filter) ([]*types.ActionTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.ActionTransition
	for _, t := range m.rows {
		if f.PersonID != "" && t.PersonID != f.PersonID {
			continue
		}
		if f.DateFrom != nil && t.LastSeen.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && t.LastSeen.After(*f.DateTo) {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f), nil
}

type memReminders struct {
	mu   sync.RWMutex
	rows map[string]*types.ReminderCandidate
}

func (m *memReminders) Add(_ context.Context, r *types.ReminderCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Version = 1
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *memReminders) Update(_ context.Context, r *types.ReminderCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != r.Version {
		return ErrConflict
	}
	r.Version++
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *memReminders) GetByID(_ context.Context, id string) (*types.ReminderCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *memReminders) GetBySourceEventID(_ context.Context, eventID string) (*types.ReminderCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rows {
		if r.SourceEventID == eventID {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memReminders) GetByPerson(_ context.Context, personID string, status types.ReminderStatus) ([]*types.ReminderCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.ReminderCandidate
	for _, r := range m.rows {
		if r.PersonID != personID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memReminders) GetFiltered(_ context.Context, f Filter) ([]*types.ReminderCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.ReminderCandidate
	for _, r := range m.rows {
		if f.PersonID != "" && r.PersonID != f.PersonID {
			continue
		}
		if f.Status != "" && string(r.Status) != f.Status {
			continue
		}
		if f.DateFrom != nil && r.CheckAt.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && r.CheckAt.After(*f.DateTo) {
			continue
		}
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f), nil
}

type memRoutines struct {
	mu   sync.RWMutex
	rows map[string]*types.Routine
}

func (m *memRoutines) Add(_ context.Context, r *types.Routine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Version = 1
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *memRoutines) Update(_ context.Context, r *types.Routine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != r.Version {
		return ErrConflict
	}
	r.Version++
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *memRoutines) GetByID(_ context.Context, id string) (*types.Routine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *memRoutines) GetByPersonAndIntent(_ context.Context, personID, intentType string) (*types.Routine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rows {
		if r.PersonID == personID && r.IntentType == intentType {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoutines) ListByPerson(_ context.Context, personID string) ([]*types.Routine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Routine
	for _, r := range m.rows {
		if r.PersonID == personID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memRoutineReminders struct {
	mu   sync.RWMutex
	rows map[string]*types.RoutineReminder
}

func (m *memRoutineReminders) Add(_ context.Context, r *types.RoutineReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Version = 1
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *memRoutineReminders) Update(_ context.Context, r *types.RoutineReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != r.Version {
		return ErrConflict
	}
	r.Version++
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *memRoutineReminders) GetByID(_ context.Context, id string) (*types.RoutineReminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *memRoutineReminders) GetByRoutineAndBucket(_ context.Context, routineID, bucket, action string) (*types.RoutineReminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rows {
		if r.RoutineID == routineID && r.Bucket == bucket && r.SuggestedAction == action {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoutineReminders) ListByRoutine(_ context.Context, routineID string) ([]*types.RoutineReminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.RoutineReminder
	for _, r := range m.rows {
		if r.RoutineID == routineID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memCooldowns struct {
	mu   sync.RWMutex
	rows map[string]*types.ReminderCooldown
}

func (m *memCooldowns) Upsert(_ context.Context, c *types.ReminderCooldown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.PersonID + "\x00" + c.ActionType
	if cur, ok := m.rows[key]; ok {
		c.ID = cur.ID
		c.Version = cur.Version + 1
	} else {
		c.Version = 1
	}
	m.rows[key] = clone(c)
	return nil
}

func (m *memCooldowns) GetActive(_ context.Context, personID, actionType string, now time.Time) (*types.ReminderCooldown, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.rows[personID+"\x00"+actionType]
	if !ok || !c.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	return clone(c), nil
}
