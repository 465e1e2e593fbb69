package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"timetracker-backend/internal/models"
)

// Fixed-width UTC layout so TEXT columns sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore backs local development and the storage tests. It relies on
// the single-connection pool from database.NewSQLiteDB to serialise writers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError(err)
	}
	if err := fn(&sqliteTx{tx: tx, now: s.now}); err != nil {
		tx.Rollback()
		return mapSQLiteError(err)
	}
	return mapSQLiteError(tx.Commit())
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) FindOrCreateProfile(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (id, host_user_id, host_account_id, email, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (host_user_id) DO UPDATE SET
			host_account_id = excluded.host_account_id,
			email = COALESCE(excluded.email, user_profiles.email),
			name = COALESCE(excluded.name, user_profiles.name)`,
		uuid.New(), ident.UserID, ident.AccountID, ident.Email, ident.Name, formatTime(s.now()))
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	return s.ProfileByHostUserID(ctx, ident.UserID)
}

func (s *SQLiteStore) ProfileByHostUserID(ctx context.Context, hostUserID string) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	var email, name sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, host_user_id, host_account_id, email, name, created_at
		FROM user_profiles WHERE host_user_id = ?`, hostUserID,
	).Scan(&p.ID, &p.HostUserID, &p.HostAccountID, &email, &name, &createdAt)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	if email.Valid {
		p.Email = &email.String
	}
	if name.Valid {
		p.Name = &name.String
	}
	p.CreatedAt, _ = parseTime(createdAt)
	return p, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteEntryColumns+`
		FROM time_entries
		WHERE user_profile_id = ? AND is_draft = 0
		ORDER BY start_time DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.TimeEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) DeleteOrphanDrafts(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM time_entries
		WHERE is_draft = 1
		  AND created_at < ?
		  AND NOT EXISTS (SELECT 1 FROM timer_sessions s WHERE s.draft_entry_id = time_entries.id)`,
		formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete orphan drafts: %w", err)
	}
	return res.RowsAffected()
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sqliteSessionColumns = `id, user_profile_id, draft_entry_id, start_time, is_running, is_paused, elapsed_seconds, version, updated_at`

func scanSQLiteSession(row rowScanner) (*models.TimerSession, error) {
	s := &models.TimerSession{}
	var startTime, updatedAt string
	err := row.Scan(&s.ID, &s.UserProfileID, &s.DraftEntryID, &startTime, &s.IsRunning, &s.IsPaused,
		&s.ElapsedSeconds, &s.Version, &updatedAt)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	s.StartTime, _ = parseTime(startTime)
	s.UpdatedAt, _ = parseTime(updatedAt)
	return s, nil
}

func (t *sqliteTx) SessionByUser(ctx context.Context, userID uuid.UUID) (*models.TimerSession, error) {
	return scanSQLiteSession(t.tx.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM timer_sessions WHERE user_profile_id = ?`, userID))
}

func (t *sqliteTx) SessionByID(ctx context.Context, sessionID, userID uuid.UUID) (*models.TimerSession, error) {
	return scanSQLiteSession(t.tx.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM timer_sessions WHERE id = ? AND user_profile_id = ?`, sessionID, userID))
}

func (t *sqliteTx) InsertSession(ctx context.Context, s *models.TimerSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Version = 1
	s.UpdatedAt = t.now().UTC()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO timer_sessions (id, user_profile_id, draft_entry_id, start_time, is_running, is_paused, elapsed_seconds, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserProfileID, s.DraftEntryID, formatTime(s.StartTime), s.IsRunning, s.IsPaused, s.ElapsedSeconds,
		s.Version, formatTime(s.UpdatedAt))
	return mapSQLiteError(err)
}

func (t *sqliteTx) UpdateSession(ctx context.Context, s *models.TimerSession) error {
	updatedAt := t.now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE timer_sessions
		SET draft_entry_id = ?, is_running = ?, is_paused = ?, elapsed_seconds = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		s.DraftEntryID, s.IsRunning, s.IsPaused, s.ElapsedSeconds, formatTime(updatedAt), s.ID, s.Version)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	s.Version++
	s.UpdatedAt = updatedAt
	return nil
}

func (t *sqliteTx) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM timer_segments WHERE session_id = ?`, sessionID); err != nil {
		return mapSQLiteError(err)
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM timer_sessions WHERE id = ?`, sessionID)
	return mapSQLiteError(err)
}

const sqliteSegmentColumns = `id, session_id, kind, start_time, end_time, duration_seconds`

func scanSQLiteSegment(row rowScanner) (*models.TimerSegment, error) {
	seg := &models.TimerSegment{}
	var startTime string
	var endTime sql.NullString
	var duration sql.NullInt64
	if err := row.Scan(&seg.ID, &seg.SessionID, &seg.Kind, &startTime, &endTime, &duration); err != nil {
		return nil, mapSQLiteError(err)
	}
	seg.StartTime, _ = parseTime(startTime)
	if endTime.Valid {
		end, _ := parseTime(endTime.String)
		seg.EndTime = &end
	}
	if duration.Valid {
		seg.DurationSeconds = &duration.Int64
	}
	return seg, nil
}

func (t *sqliteTx) OpenSegment(ctx context.Context, sessionID uuid.UUID) (*models.TimerSegment, error) {
	return scanSQLiteSegment(t.tx.QueryRowContext(ctx, `
		SELECT `+sqliteSegmentColumns+`
		FROM timer_segments
		WHERE session_id = ? AND end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1`, sessionID))
}

func (t *sqliteTx) InsertSegment(ctx context.Context, seg *models.TimerSegment) error {
	if seg.ID == uuid.Nil {
		seg.ID = uuid.New()
	}
	var endTime any
	if seg.EndTime != nil {
		endTime = formatTime(*seg.EndTime)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO timer_segments (id, session_id, kind, start_time, end_time, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?)`,
		seg.ID, seg.SessionID, seg.Kind, formatTime(seg.StartTime), endTime, seg.DurationSeconds)
	return mapSQLiteError(err)
}

func (t *sqliteTx) CloseSegment(ctx context.Context, seg *models.TimerSegment, end time.Time) error {
	duration := SegmentDuration(seg.StartTime, end)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE timer_segments SET end_time = ?, duration_seconds = ?
		WHERE id = ? AND end_time IS NULL`, formatTime(end), duration, seg.ID)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	seg.EndTime = &end
	seg.DurationSeconds = &duration
	return nil
}

func (t *sqliteTx) ListSegments(ctx context.Context, sessionID uuid.UUID) ([]*models.TimerSegment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sqliteSegmentColumns+` FROM timer_segments WHERE session_id = ? ORDER BY start_time ASC`, sessionID)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var segs []*models.TimerSegment
	for rows.Next() {
		seg, err := scanSQLiteSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

const sqliteEntryColumns = `id, user_profile_id, task_name, comment, start_time, end_time, duration_seconds, is_draft, created_at`

func scanSQLiteEntry(row rowScanner) (*models.TimeEntry, error) {
	e := &models.TimeEntry{}
	var startTime, createdAt string
	var endTime sql.NullString
	if err := row.Scan(&e.ID, &e.UserProfileID, &e.TaskName, &e.Comment, &startTime, &endTime,
		&e.DurationSeconds, &e.IsDraft, &createdAt); err != nil {
		return nil, mapSQLiteError(err)
	}
	e.StartTime, _ = parseTime(startTime)
	e.CreatedAt, _ = parseTime(createdAt)
	if endTime.Valid {
		end, _ := parseTime(endTime.String)
		e.EndTime = &end
	}
	return e, nil
}

func (t *sqliteTx) InsertEntry(ctx context.Context, e *models.TimeEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = t.now().UTC()
	var endTime any
	if e.EndTime != nil {
		endTime = formatTime(*e.EndTime)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO time_entries (id, user_profile_id, task_name, comment, start_time, end_time, duration_seconds, is_draft, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserProfileID, e.TaskName, e.Comment, formatTime(e.StartTime), endTime, e.DurationSeconds, e.IsDraft,
		formatTime(e.CreatedAt))
	return mapSQLiteError(err)
}

func (t *sqliteTx) EntryByID(ctx context.Context, entryID, userID uuid.UUID) (*models.TimeEntry, error) {
	return scanSQLiteEntry(t.tx.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM time_entries WHERE id = ? AND user_profile_id = ?`, entryID, userID))
}

func (t *sqliteTx) UpdateEntryComment(ctx context.Context, entryID uuid.UUID, comment string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE time_entries SET comment = ? WHERE id = ? AND is_draft = 1`, comment, entryID)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) FinalizeEntry(ctx context.Context, e *models.TimeEntry) error {
	var endTime any
	if e.EndTime != nil {
		endTime = formatTime(*e.EndTime)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE time_entries
		SET task_name = ?, comment = ?, end_time = ?, duration_seconds = ?, is_draft = 0
		WHERE id = ? AND is_draft = 1`,
		e.TaskName, e.Comment, endTime, e.DurationSeconds, e.ID)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	e.IsDraft = false
	return nil
}

func (t *sqliteTx) DeleteDraft(ctx context.Context, entryID, userID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM time_entries WHERE id = ? AND user_profile_id = ? AND is_draft = 1`, entryID, userID)
	return mapSQLiteError(err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func mapSQLiteError(err error) error {
	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_BUSY:
			return fmt.Errorf("%w: %s", ErrConflict, sqliteErr.Error())
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}
	return err
}
