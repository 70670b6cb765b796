package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

// DefaultSessionCapacity applies when a session is created without a group capacity.
const DefaultSessionCapacity = 6

// CreateSession stores a new session with an empty unassigned pool.
func (s *Store) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.DefaultCapacity <= 0 {
		session.DefaultCapacity = DefaultSessionCapacity
	}
	now := s.timestamp()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	const query = `INSERT INTO sessions (id, title, default_capacity, created_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			session.ID, session.Title, session.DefaultCapacity, session.CreatedBy,
			formatTime(session.CreatedAt), formatTime(session.UpdatedAt),
		)
		return err
	})
}

// GetSession returns the session with id.
func (s *Store) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	return getSession(ctx, s.pool.DB(), id)
}

func getSession(ctx context.Context, q queryer, id string) (persistence.Session, error) {
	var (
		session              persistence.Session
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, title, default_capacity, created_by, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Title, &session.DefaultCapacity, &session.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Session{}, &persistence.NotFoundError{Entity: "session", ID: id}
	}
	if err != nil {
		return persistence.Session{}, fmt.Errorf("sqlite: get session: %w", err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Session{}, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Session{}, err
	}
	return session, nil
}

// AddSessionParticipants places participants in the session's unassigned pool. Participants
// already in the session are left where they are and produce no log entry.
func (s *Store) AddSessionParticipants(ctx context.Context, sessionID string, participantIDs []string, actorID string) ([]persistence.ChangeLogEntry, error) {
	ids := uniqueIDs(participantIDs)

	var entries []persistence.ChangeLogEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		entries = nil
		if _, err := getSession(ctx, tx, sessionID); err != nil {
			return err
		}

		now := s.timestamp()
		pool := persistence.UnassignedPool(sessionID)
		for _, id := range ids {
			if err := requireParticipant(ctx, tx, id); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO session_members (session_id, participant_id, session_group_id, assigned_by, joined_at) VALUES (?, ?, NULL, ?, ?)`,
				sessionID, id, actorID, formatTime(now),
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}

			entry, err := s.record(ctx, tx, now, persistence.ActionAddParticipant, id, nil, &pool, actorID, nil)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SessionLayout returns the session's unassigned pool and its groups in group number order.
func (s *Store) SessionLayout(ctx context.Context, sessionID string) (persistence.SessionLayout, error) {
	var layout persistence.SessionLayout
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		layout = persistence.SessionLayout{}
		session, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		layout.Session = session

		layout.Unassigned, err = queryIDs(ctx, tx,
			`SELECT participant_id FROM session_members WHERE session_id = ? AND session_group_id IS NULL ORDER BY joined_at, participant_id`,
			sessionID)
		if err != nil {
			return err
		}

		groupIDs, err := queryIDs(ctx, tx, `SELECT id FROM session_groups WHERE session_id = ? ORDER BY group_number`, sessionID)
		if err != nil {
			return err
		}
		for _, id := range groupIDs {
			container, err := loadContainerWithMembers(ctx, tx, persistence.ContainerRef{Kind: persistence.KindSessionGroup, ID: id})
			if err != nil {
				return err
			}
			layout.Groups = append(layout.Groups, container)
		}
		return nil
	})
	return layout, err
}

// sessionPlacement returns the participant's session group ("" for the pool) and whether
// the participant is part of the session at all.
func sessionPlacement(ctx context.Context, q queryer, sessionID, participantID string) (string, bool, error) {
	var groupID sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT session_group_id FROM session_members WHERE session_id = ? AND participant_id = ?`,
		sessionID, participantID,
	).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return groupID.String, true, nil
}

func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
