package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bkchaithanya285/ai-tracking/internal/models"
)

// Store persists relay sessions and the results observed during them.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	query := `
		INSERT INTO sessions (id, client_id, source, start_time, status)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.ClientID, sess.Source, sess.StartTime, sess.Status,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sess models.Session) error {
	query := `UPDATE sessions SET end_time = $2, status = $3 WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, sess.ID, sess.EndTime, sess.Status)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, e models.Event) error {
	query := `
		INSERT INTO events (session_id, detected_count, tracked_class, tracking_id, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		e.SessionID, e.DetectedCount, e.TrackedClass, e.TrackingID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	query := `
		SELECT id, client_id, source, start_time, end_time, status
		FROM sessions ORDER BY start_time DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			sess models.Session
			end  sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.ClientID, &sess.Source, &sess.StartTime, &end, &sess.Status); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if end.Valid {
			t := end.Time
			sess.EndTime = &t
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SessionEvents returns the events of one session in arrival order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, limit int) ([]models.Event, error) {
	query := `
		SELECT id, session_id, detected_count, tracked_class, tracking_id, timestamp
		FROM events WHERE session_id = $1 ORDER BY id LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.DetectedCount, &e.TrackedClass, &e.TrackingID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
