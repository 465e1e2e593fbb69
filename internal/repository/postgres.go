package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"timetracker-backend/internal/models"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	return mapPgError(err)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) FindOrCreateProfile(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	// The no-op update on conflict makes RETURNING yield the existing row.
	query := `
		INSERT INTO user_profiles (id, host_user_id, host_account_id, email, name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host_user_id) DO UPDATE SET
			host_account_id = EXCLUDED.host_account_id,
			email = COALESCE(EXCLUDED.email, user_profiles.email),
			name = COALESCE(EXCLUDED.name, user_profiles.name)
		RETURNING id, host_user_id, host_account_id, email, name, created_at`

	err := s.pool.QueryRow(ctx, query, uuid.New(), ident.UserID, ident.AccountID, ident.Email, ident.Name).Scan(
		&p.ID, &p.HostUserID, &p.HostAccountID, &p.Email, &p.Name, &p.CreatedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	return p, nil
}

func (s *PostgresStore) ProfileByHostUserID(ctx context.Context, hostUserID string) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, host_user_id, host_account_id, email, name, created_at
		FROM user_profiles WHERE host_user_id = $1`, hostUserID,
	).Scan(&p.ID, &p.HostUserID, &p.HostAccountID, &p.Email, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return p, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimeEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_profile_id, task_name, comment, start_time, end_time, duration_seconds, is_draft, created_at
		FROM time_entries
		WHERE user_profile_id = $1 AND is_draft = FALSE
		ORDER BY start_time DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.TimeEntry
	for rows.Next() {
		e := &models.TimeEntry{}
		if err := rows.Scan(&e.ID, &e.UserProfileID, &e.TaskName, &e.Comment, &e.StartTime, &e.EndTime,
			&e.DurationSeconds, &e.IsDraft, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DeleteOrphanDrafts(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM time_entries e
		WHERE e.is_draft = TRUE
		  AND e.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM timer_sessions s WHERE s.draft_entry_id = e.id)`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete orphan drafts: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgTx struct {
	tx pgx.Tx
}

const pgSessionColumns = `id, user_profile_id, draft_entry_id, start_time, is_running, is_paused, elapsed_seconds, version, updated_at`

func scanPgSession(row pgx.Row) (*models.TimerSession, error) {
	s := &models.TimerSession{}
	err := row.Scan(&s.ID, &s.UserProfileID, &s.DraftEntryID, &s.StartTime, &s.IsRunning, &s.IsPaused,
		&s.ElapsedSeconds, &s.Version, &s.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return s, nil
}

func (t *pgTx) SessionByUser(ctx context.Context, userID uuid.UUID) (*models.TimerSession, error) {
	return scanPgSession(t.tx.QueryRow(ctx,
		`SELECT `+pgSessionColumns+` FROM timer_sessions WHERE user_profile_id = $1 FOR UPDATE`, userID))
}

func (t *pgTx) SessionByID(ctx context.Context, sessionID, userID uuid.UUID) (*models.TimerSession, error) {
	return scanPgSession(t.tx.QueryRow(ctx,
		`SELECT `+pgSessionColumns+` FROM timer_sessions WHERE id = $1 AND user_profile_id = $2 FOR UPDATE`,
		sessionID, userID))
}

func (t *pgTx) InsertSession(ctx context.Context, s *models.TimerSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Version = 1
	err := t.tx.QueryRow(ctx, `
		INSERT INTO timer_sessions (id, user_profile_id, draft_entry_id, start_time, is_running, is_paused, elapsed_seconds, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING updated_at`,
		s.ID, s.UserProfileID, s.DraftEntryID, s.StartTime, s.IsRunning, s.IsPaused, s.ElapsedSeconds, s.Version,
	).Scan(&s.UpdatedAt)
	return mapPgError(err)
}

func (t *pgTx) UpdateSession(ctx context.Context, s *models.TimerSession) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE timer_sessions
		SET draft_entry_id = $1, is_running = $2, is_paused = $3, elapsed_seconds = $4,
			version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at`,
		s.DraftEntryID, s.IsRunning, s.IsPaused, s.ElapsedSeconds, s.ID, s.Version,
	).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	return mapPgError(err)
}

func (t *pgTx) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	// Segments go with the session through ON DELETE CASCADE.
	_, err := t.tx.Exec(ctx, `DELETE FROM timer_sessions WHERE id = $1`, sessionID)
	return mapPgError(err)
}

const pgSegmentColumns = `id, session_id, kind, start_time, end_time, duration_seconds`

func (t *pgTx) OpenSegment(ctx context.Context, sessionID uuid.UUID) (*models.TimerSegment, error) {
	seg := &models.TimerSegment{}
	err := t.tx.QueryRow(ctx, `
		SELECT `+pgSegmentColumns+`
		FROM timer_segments
		WHERE session_id = $1 AND end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1`, sessionID,
	).Scan(&seg.ID, &seg.SessionID, &seg.Kind, &seg.StartTime, &seg.EndTime, &seg.DurationSeconds)
	if err != nil {
		return nil, mapPgError(err)
	}
	return seg, nil
}

func (t *pgTx) InsertSegment(ctx context.Context, seg *models.TimerSegment) error {
	if seg.ID == uuid.Nil {
		seg.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO timer_segments (id, session_id, kind, start_time, end_time, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		seg.ID, seg.SessionID, seg.Kind, seg.StartTime, seg.EndTime, seg.DurationSeconds)
	return mapPgError(err)
}

func (t *pgTx) CloseSegment(ctx context.Context, seg *models.TimerSegment, end time.Time) error {
	duration := SegmentDuration(seg.StartTime, end)
	tag, err := t.tx.Exec(ctx, `
		UPDATE timer_segments SET end_time = $1, duration_seconds = $2
		WHERE id = $3 AND end_time IS NULL`, end, duration, seg.ID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	seg.EndTime = &end
	seg.DurationSeconds = &duration
	return nil
}

func (t *pgTx) ListSegments(ctx context.Context, sessionID uuid.UUID) ([]*models.TimerSegment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+pgSegmentColumns+` FROM timer_segments WHERE session_id = $1 ORDER BY start_time ASC`, sessionID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var segs []*models.TimerSegment
	for rows.Next() {
		seg := &models.TimerSegment{}
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Kind, &seg.StartTime, &seg.EndTime, &seg.DurationSeconds); err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

func (t *pgTx) InsertEntry(ctx context.Context, e *models.TimeEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO time_entries (id, user_profile_id, task_name, comment, start_time, end_time, duration_seconds, is_draft)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		e.ID, e.UserProfileID, e.TaskName, e.Comment, e.StartTime, e.EndTime, e.DurationSeconds, e.IsDraft,
	).Scan(&e.CreatedAt)
	return mapPgError(err)
}

func (t *pgTx) EntryByID(ctx context.Context, entryID, userID uuid.UUID) (*models.TimeEntry, error) {
	e := &models.TimeEntry{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_profile_id, task_name, comment, start_time, end_time, duration_seconds, is_draft, created_at
		FROM time_entries WHERE id = $1 AND user_profile_id = $2 FOR UPDATE`, entryID, userID,
	).Scan(&e.ID, &e.UserProfileID, &e.TaskName, &e.Comment, &e.StartTime, &e.EndTime,
		&e.DurationSeconds, &e.IsDraft, &e.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return e, nil
}

func (t *pgTx) UpdateEntryComment(ctx context.Context, entryID uuid.UUID, comment string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE time_entries SET comment = $1 WHERE id = $2 AND is_draft = TRUE`, comment, entryID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) FinalizeEntry(ctx context.Context, e *models.TimeEntry) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_entries
		SET task_name = $1, comment = $2, end_time = $3, duration_seconds = $4, is_draft = FALSE
		WHERE id = $5 AND is_draft = TRUE`,
		e.TaskName, e.Comment, e.EndTime, e.DurationSeconds, e.ID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	e.IsDraft = false
	return nil
}

func (t *pgTx) DeleteDraft(ctx context.Context, entryID, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM time_entries WHERE id = $1 AND user_profile_id = $2 AND is_draft = TRUE`, entryID, userID)
	return mapPgError(err)
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}
