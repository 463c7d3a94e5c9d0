package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Andriy31193/aipatterner/internal/types"
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single SQLite database file. Queryable
// fields live in indexed columns; the full aggregate is a JSON payload.
// Updates are optimistic: the version column must match or the write is
// rejected with ErrConflict.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs the
// schema migration.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// WAL mode for concurrent readers during event bursts
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id          TEXT PRIMARY KEY,
			person_id   TEXT NOT NULL,
			from_action TEXT NOT NULL,
			to_action   TEXT NOT NULL,
			bucket_key  TEXT NOT NULL,
			last_seen   INTEGER NOT NULL,
			version     INTEGER NOT NULL,
			payload     TEXT NOT NULL,
			UNIQUE (person_id, from_action, to_action, bucket_key)
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id              TEXT PRIMARY KEY,
			person_id       TEXT NOT NULL,
			status          TEXT NOT NULL,
			source_event_id TEXT NOT NULL DEFAULT '',
			check_at        INTEGER NOT NULL,
			version         INTEGER NOT NULL,
			payload         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_person ON reminders(person_id, status)`,
		`CREATE TABLE IF NOT EXISTS routines (
			id          TEXT PRIMARY KEY,
			person_id   TEXT NOT NULL,
			intent_type TEXT NOT NULL,
			version     INTEGER NOT NULL,
			payload     TEXT NOT NULL,
			UNIQUE (person_id, intent_type)
		)`,
		`CREATE TABLE IF NOT EXISTS routine_reminders (
			id               TEXT PRIMARY KEY,
			routine_id       TEXT NOT NULL,
			bucket           TEXT NOT NULL,
			suggested_action TEXT NOT NULL,
			version          INTEGER NOT NULL,
			payload          TEXT NOT NULL,
			UNIQUE (routine_id, bucket, suggested_action)
		)`,
		`CREATE TABLE IF NOT EXISTS cooldowns (
			person_id   TEXT NOT NULL,
			action_type TEXT NOT NULL,
			expires_at  INTEGER NOT NULL,
			version     INTEGER NOT NULL,
			payload     TEXT NOT NULL,
			PRIMARY KEY (person_id, action_type)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Transitions() Transitions           { return &sqlTransitions{db: s.db} }
func (s *SQLite) Reminders() Reminders               { return &sqlReminders{db: s.db} }
func (s *SQLite) Routines() Routines                 { return &sqlRoutines{db: s.db} }
func (s *SQLite) RoutineReminders() RoutineReminders { return &sqlRoutineReminders{db: s.db} }
func (s *SQLite) Cooldowns() Cooldowns               { return &sqlCooldowns{db: s.db} }

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal payload: %w", err)
	}
	return string(b), nil
}

func scanPayload[T any](row *sql.Row) (*T, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return nil, fmt.Errorf("store: unmarshal payload: %w", err)
	}
	return out, nil
}

func collectPayloads[T any](rows *sql.Rows) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(payload), v); err != nil {
			return nil, fmt.Errorf("store: unmarshal payload: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// checkedUpdate applies an optimistic update and maps "no rows affected" to
// ErrConflict (or ErrNotFound when the row is absent entirely).
func checkedUpdate(ctx context.Context, db *sql.DB, query, existsQuery string, args []any, id string) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := db.QueryRowContext(ctx, existsQuery, id).Scan(&one); errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return ErrConflict
}

func pageClause(f Filter) string {
	if f.PageSize <= 0 {
		return ""
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, (page-1)*f.PageSize)
}

type sqlTransitions struct{ db *sql.DB }

func (s *sqlTransitions) Add(ctx context.Context, t *types.ActionTransition) error {
	t.Version = 1
	payload, err := marshalPayload(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, person_id, from_action, to_action, bucket_key, last_seen, version, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PersonID, t.FromAction, t.ToAction, t.BucketKey, t.LastSeen.Unix(), t.Version, payload)
	if err != nil {
		return fmt.Errorf("store: add transition: %w", err)
	}
	return nil
}

func (s *sqlTransitions) Update(ctx context.Context, t *types.ActionTransition) error {
	prev := t.Version
	t.Version++
	payload, err := marshalPayload(t)
	if err != nil {
		t.Version = prev
		return err
	}
	err = checkedUpdate(ctx, s.db,
		`UPDATE transitions SET last_seen = ?, version = ?, payload = ? WHERE id = ? AND version = ?`,
		`SELECT 1 FROM transitions WHERE id = ?`,
		[]any{t.LastSeen.Unix(), t.Version, payload, t.ID, prev}, t.ID)
	if err != nil {
		t.Version = prev
	}
	return err
}

func (s *sqlTransitions) GetByID(ctx context.Context, id string) (*types.ActionTransition, error) {
	return scanPayload[types.ActionTransition](
		s.db.QueryRowContext(ctx, `SELECT payload FROM transitions WHERE id = ?`, id))
}

func (s *sqlTransitions) GetByKey(ctx context.Context, personID, fromAction, toAction, bucketKey string) (*types.ActionTransition, error) {
	return scanPayload[types.ActionTransition](
		s.db.QueryRowContext(ctx,
			`SELECT payload FROM transitions
			 WHERE person_id = ? AND from_action = ? AND to_action = ? AND bucket_key = ?`,
			personID, fromAction, toAction, bucketKey))
}

func (s *sqlTransitions) GetFiltered(ctx context.Context, f Filter) ([]*types.ActionTransition, error) {
	query := `SELECT payload FROM transitions WHERE 1=1`
	var args []any
	if f.PersonID != "" {
		query += ` AND person_id = ?`
		args = append(args, f.PersonID)
	}
	if f.DateFrom != nil {
		query += ` AND last_seen >= ?`
		args = append(args, f.DateFrom.Unix())
	}
	if f.DateTo != nil {
		query += ` AND last_seen <= ?`
		args = append(args, f.DateTo.Unix())
	}
	query += ` ORDER BY id` + pageClause(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list transitions: %w", err)
	}
	return collectPayloads[types.ActionTransition](rows)
}

type sqlReminders struct{ db *sql.DB }

func (s *sqlReminders) Add(ctx context.Context, r *types.ReminderCandidate) error {
	r.Version = 1
	payload, err := marshalPayload(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, person_id, status, source_event_id, check_at, version, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PersonID, string(r.Status), r.SourceEventID, r.CheckAt.Unix(), r.Version, payload)
	if err != nil {
		return fmt.Errorf("store: add reminder: %w", err)
	}
	return nil
}

func (s *sqlReminders) Update(ctx context.Context, r *types.ReminderCandidate) error {
	prev := r.Version
	r.Version++
	payload, err := marshalPayload(r)
	if err != nil {
		r.Version = prev
		return err
	}
	err = checkedUpdate(ctx, s.db,
		`UPDATE reminders SET status = ?, check_at = ?, version = ?, payload = ? WHERE id = ? AND version = ?`,
		`SELECT 1 FROM reminders WHERE id = ?`,
		[]any{string(r.Status), r.CheckAt.Unix(), r.Version, payload, r.ID, prev}, r.ID)
	if err != nil {
		r.Version = prev
	}
	return err
}

func (s *sqlReminders) GetByID(ctx context.Context, id string) (*types.ReminderCandidate, error) {
	return scanPayload[types.ReminderCandidate](
		s.db.QueryRowContext(ctx, `SELECT payload FROM reminders WHERE id = ?`, id))
}

func (s *sqlReminders) GetBySourceEventID(ctx context.Context, eventID string) (*types.ReminderCandidate, error) {
	return scanPayload[types.ReminderCandidate](
		s.db.QueryRowContext(ctx, `SELECT payload FROM reminders WHERE source_event_id = ?`, eventID))
}

func (s *sqlReminders) GetByPerson(ctx context.Context, personID string, status types.ReminderStatus) ([]*types.ReminderCandidate, error) {
	query := `SELECT payload FROM reminders WHERE person_id = ?`
	args := []any{personID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list reminders: %w", err)
	}
	return collectPayloads[types.ReminderCandidate](rows)
}

func (s *sqlReminders) GetFiltered(ctx context.Context, f Filter) ([]*types.ReminderCandidate, error) {
	query := `SELECT payload FROM reminders WHERE 1=1`
	var args []any
	if f.PersonID != "" {
		query += ` AND person_id = ?`
		args = append(args, f.PersonID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.DateFrom != nil {
		query += ` AND check_at >= ?`
		args = append(args, f.DateFrom.Unix())
	}
	if f.DateTo != nil {
		query += ` AND check_at <= ?`
		args = append(args, f.DateTo.Unix())
	}
	query += ` ORDER BY id` + pageClause(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list reminders: %w", err)
	}
	return collectPayloads[types.ReminderCandidate](rows)
}

type sqlRoutines struct{ db *sql.DB }

func (s *sqlRoutines) Add(ctx context.Context, r *types.Routine) error {
	r.Version = 1
	payload, err := marshalPayload(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routines (id, person_id, intent_type, version, payload) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.PersonID, r.IntentType, r.Version, payload)
	if err != nil {
		return fmt.Errorf("store: add routine: %w", err)
	}
	return nil
}

func (s *sqlRoutines) Update(ctx context.Context, r *types.Routine) error {
	prev := r.Version
	r.Version++
	payload, err := marshalPayload(r)
	if err != nil {
		r.Version = prev
		return err
	}
	err = checkedUpdate(ctx, s.db,
		`UPDATE routines SET version = ?, payload = ? WHERE id = ? AND version = ?`,
		`SELECT 1 FROM routines WHERE id = ?`,
		[]any{r.Version, payload, r.ID, prev}, r.ID)
	if err != nil {
		r.Version = prev
	}
	return err
}

func (s *sqlRoutines) GetByID(ctx context.Context, id string) (*types.Routine, error) {
	return scanPayload[types.Routine](
		s.db.QueryRowContext(ctx, `SELECT payload FROM routines WHERE id = ?`, id))
}

func (s *sqlRoutines) GetByPersonAndIntent(ctx context.Context, personID, intentType string) (*types.Routine, error) {
	return scanPayload[types.Routine](
		s.db.QueryRowContext(ctx,
			`SELECT payload FROM routines WHERE person_id = ? AND intent_type = ?`, personID, intentType))
}

func (s *sqlRoutines) ListByPerson(ctx context.Context, personID string) ([]*types.Routine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM routines WHERE person_id = ? ORDER BY id`, personID)
	if err != nil {
		return nil, fmt.Errorf("store: list routines: %w", err)
	}
	return collectPayloads[types.Routine](rows)
}

type sqlRoutineReminders struct{ db *sql.DB }

func (s *sqlRoutineReminders) Add(ctx context.Context, r *types.RoutineReminder) error {
	r.Version = 1
	payload, err := marshalPayload(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routine_reminders (id, routine_id, bucket, suggested_action, version, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.RoutineID, r.Bucket, r.SuggestedAction, r.Version, payload)
	if err != nil {
		return fmt.Errorf("store: add routine reminder: %w", err)
	}
	return nil
}

func (s *sqlRoutineReminders) Update(ctx context.Context, r *types.RoutineReminder) error {
	prev := r.Version
	r.Version++
	payload, err := marshalPayload(r)
	if err != nil {
		r.Version = prev
		return err
	}
	err = checkedUpdate(ctx, s.db,
		`UPDATE routine_reminders SET version = ?, payload = ? WHERE id = ? AND version = ?`,
		`SELECT 1 FROM routine_reminders WHERE id = ?`,
		[]any{r.Version, payload, r.ID, prev}, r.ID)
	if err != nil {
		r.Version = prev
	}
	return err
}

func (s *sqlRoutineReminders) GetByID(ctx context.Context, id string) (*types.RoutineReminder, error) {
	return scanPayload[types.RoutineReminder](
		s.db.QueryRowContext(ctx, `SELECT payload FROM routine_reminders WHERE id = ?`, id))
}

func (s *sqlRoutineReminders) GetByRoutineAndBucket(ctx context.Context, routineID, bucket, action string) (*types.RoutineReminder, error) {
	return scanPayload[types.RoutineReminder](
		s.db.QueryRowContext(ctx,
			`SELECT payload FROM routine_reminders WHERE routine_id = ? AND bucket = ? AND suggested_action = ?`,
			routineID, bucket, action))
}

func (s *sqlRoutineReminders) ListByRoutine(ctx context.Context, routineID string) ([]*types.RoutineReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM routine_reminders WHERE routine_id = ? ORDER BY id`, routineID)
	if err != nil {
		return nil, fmt.Errorf("store: list routine reminders: %w", err)
	}
	return collectPayloads[types.RoutineReminder](rows)
}

type sqlCooldowns struct{ db *sql.DB }

func (s *sqlCooldowns) Upsert(ctx context.Context, c *types.ReminderCooldown) error {
	if c.Version == 0 {
		c.Version = 1
	}
	payload, err := marshalPayload(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cooldowns (person_id, action_type, expires_at, version, payload)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (person_id, action_type) DO UPDATE SET
			expires_at = excluded.expires_at,
			version = cooldowns.version + 1,
			payload = excluded.payload`,
		c.PersonID, c.ActionType, c.ExpiresAt.Unix(), c.Version, payload)
	if err != nil {
		return fmt.Errorf("store: upsert cooldown: %w", err)
	}
	return nil
}

func (s *sqlCooldowns) GetActive(ctx context.Context, personID, actionType string, now time.Time) (*types.ReminderCooldown, error) {
	return scanPayload[types.ReminderCooldown](
		s.db.QueryRowContext(ctx,
			`SELECT payload FROM cooldowns WHERE person_id = ? AND action_type = ? AND expires_at > ?`,
			personID, actionType, now.Unix()))
}
