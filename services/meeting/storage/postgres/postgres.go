// Package postgres implements the meeting Storage on PostgreSQL. The
// termination compare-and-set and the guarded processing update are single
// conditional statements so concurrent triggers from different instances
// resolve at the database, not in process memory.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	config "github.com/meetloop/backend/config/meeting"
	"github.com/meetloop/backend/pkg/gen"
	"github.com/meetloop/backend/pkg/logger"
	"github.com/meetloop/backend/services/meeting/entity"
	"github.com/meetloop/backend/services/meeting/storage"
)

type store struct {
	pool *pgxpool.Pool
	ids  gen.UUIDGenerator
}

func New(pool *pgxpool.Pool) storage.Storage {
	return &store{
		pool: pool,
		ids:  gen.UUID(),
	}
}

// ConnectionString builds a postgres DSN from the service config.
func ConnectionString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		cfg.SSLMode,
	)
}

// Connect creates a connection pool and verifies it. The caller owns Close.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS meetings (
    id                UUID PRIMARY KEY,
    room_name         TEXT NOT NULL,
    started_at        TIMESTAMPTZ,
    ended_at          TIMESTAMPTZ,
    last_activity     TIMESTAMPTZ NOT NULL,
    participants      TEXT[] NOT NULL DEFAULT '{}',
    transcripts       JSONB NOT NULL DEFAULT '[]',
    transcript_seq    BIGINT NOT NULL DEFAULT 0,
    processing_status TEXT NOT NULL DEFAULT 'pending',
    summary           TEXT NOT NULL DEFAULT '',
    processing_error  TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS meetings_active_room
    ON meetings (room_name) WHERE ended_at IS NULL;

CREATE INDEX IF NOT EXISTS meetings_stale_active
    ON meetings (last_activity) WHERE ended_at IS NULL;
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const meetingColumns = `id, room_name, started_at, ended_at, last_activity,
	participants, transcripts, processing_status, summary, processing_error`

type meetingRow interface {
	Scan(dest ...any) error
}

func scanMeeting(row meetingRow) (*entity.Meeting, error) {
	var m entity.Meeting
	var status string
	err := row.Scan(
		&m.ID,
		&m.RoomName,
		&m.StartedAt,
		&m.EndedAt,
		&m.LastActivity,
		&m.Participants,
		&m.Transcripts,
		&status,
		&m.Summary,
		&m.ProcessingError,
	)
	if err != nil {
		return nil, err
	}
	m.ProcessingStatus = entity.ProcessingStatus(status)
	return &m, nil
}

func (s *store) CreateMeeting(ctx context.Context, roomName, participant string, startedAt time.Time) (*entity.Meeting, error) {
	log := logger.FromContext(ctx)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO meetings (id, room_name, started_at, last_activity, participants)
		VALUES ($1, $2, $3, $3, $4)
		RETURNING `+meetingColumns,
		s.ids.NextString(), roomName, startedAt, []string{participant},
	)

	m, err := scanMeeting(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("room %q: %w", roomName, storage.ErrRoomBusy)
		}
		log.Error("failed to create meeting", "error", err, "room", roomName)
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}

	return m, nil
}

func (s *store) GetMeeting(ctx context.Context, id string) (*entity.Meeting, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)

	m, err := scanMeeting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("meeting %q: %w", id, storage.ErrMeetingNotFound)
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return m, nil
}

func (s *store) GetActiveMeetingByRoom(ctx context.Context, roomName string) (*entity.Meeting, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE room_name = $1 AND ended_at IS NULL`,
		roomName)

	m, err := scanMeeting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", roomName, storage.ErrNoActiveMeeting)
		}
		return nil, fmt.Errorf("failed to get active meeting: %w", err)
	}
	return m, nil
}

func (s *store) AddParticipant(ctx context.Context, id, participant string, at time.Time) (*entity.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE meetings
		SET participants = CASE
			    WHEN $2 = ANY(participants) THEN participants
			    ELSE array_append(participants, $2)
			END,
		    last_activity = $3
		WHERE id = $1 AND ended_at IS NULL
		RETURNING `+meetingColumns,
		id, participant, at,
	)

	m, err := scanMeeting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missingOrEnded(ctx, id)
		}
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	return m, nil
}

func (s *store) AppendTranscript(ctx context.Context, id string, f entity.Fragment, at time.Time) (*entity.Meeting, error) {
	log := logger.FromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var transcripts []entity.Transcript
	var seq uint64
	var endedAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT transcripts, transcript_seq, ended_at
		FROM meetings WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&transcripts, &seq, &endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("meeting %q: %w", id, storage.ErrMeetingNotFound)
		}
		return nil, fmt.Errorf("failed to lock meeting row: %w", err)
	}
	if endedAt != nil {
		return nil, fmt.Errorf("meeting %q: %w", id, storage.ErrMeetingEnded)
	}

	seq++
	transcripts = entity.InsertTranscript(transcripts, entity.Transcript{
		Speaker:   f.Speaker,
		Text:      f.Text,
		Timestamp: f.Timestamp,
		Seq:       seq,
	})

	row := tx.QueryRow(ctx, `
		UPDATE meetings
		SET transcripts = $2, transcript_seq = $3, last_activity = $4
		WHERE id = $1
		RETURNING `+meetingColumns,
		id, transcripts, seq, at,
	)

	m, err := scanMeeting(row)
	if err != nil {
		return nil, fmt.Errorf("failed to store transcript: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transcript append", "error", err, "meeting_id", id)
		return nil, fmt.Errorf("failed to commit transcript append: %w", err)
	}

	return m, nil
}

func (s *store) TerminateMeeting(ctx context.Context, id string, p storage.TerminateParams) (*entity.Meeting, bool, error) {
	log := logger.FromContext(ctx)

	// Untyped nils reach postgres as SQL NULL so COALESCE keeps the stored
	// value; a nil Go slice would otherwise encode as a jsonb null.
	var transcripts, participants any
	if p.Transcripts != nil {
		transcripts = p.Transcripts
	}
	if p.Participants != nil {
		participants = p.Participants
	}

	// The WHERE ended_at IS NULL guard is the whole contract: of any number
	// of concurrent callers exactly one row update happens.
	row := s.pool.QueryRow(ctx, `
		UPDATE meetings
		SET ended_at = $2,
		    processing_status = 'pending',
		    transcripts = COALESCE($3, transcripts),
		    participants = COALESCE($4, participants)
		WHERE id = $1 AND ended_at IS NULL
		RETURNING `+meetingColumns,
		id, p.EndedAt, transcripts, participants,
	)

	m, err := scanMeeting(row)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		log.Error("failed to terminate meeting", "error", err, "meeting_id", id)
		return nil, false, fmt.Errorf("failed to terminate meeting: %w", err)
	}

	// Lost the race or unknown id; fetch to tell the two apart.
	existing, err := s.GetMeeting(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *store) UpdateProcessing(ctx context.Context, id string, p storage.UpdateProcessingParams) (*entity.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE meetings
		SET processing_status = $3,
		    summary = CASE WHEN $4 <> '' THEN $4 ELSE summary END,
		    processing_error = CASE WHEN $5 <> '' THEN $5 ELSE processing_error END
		WHERE id = $1 AND processing_status = $2
		RETURNING `+meetingColumns,
		id, string(p.Expected), string(p.Next), p.Summary, p.ProcessingError,
	)

	m, err := scanMeeting(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update processing status: %w", err)
	}

	existing, err := s.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("meeting %q: expected %q, have %q: %w",
		id, p.Expected, existing.ProcessingStatus, storage.ErrProcessingConflict)
}

func (s *store) ListStaleActive(ctx context.Context, olderThan time.Time) ([]*entity.Meeting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+meetingColumns+`
		FROM meetings
		WHERE ended_at IS NULL AND started_at IS NOT NULL AND last_activity < $1
		ORDER BY last_activity`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale meetings: %w", err)
	}
	defer rows.Close()

	var out []*entity.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale meeting: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stale meetings: %w", err)
	}
	return out, nil
}

func (s *store) missingOrEnded(ctx context.Context, id string) error {
	m, err := s.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	if m.Ended() {
		return fmt.Errorf("meeting %q: %w", id, storage.ErrMeetingEnded)
	}
	return fmt.Errorf("meeting %q: %w", id, storage.ErrMeetingNotFound)
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
