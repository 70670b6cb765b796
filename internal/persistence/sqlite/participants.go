package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

// CreateParticipant stores a new participant. Duplicate contact keys yield ErrDuplicate.
func (s *Store) CreateParticipant(ctx context.Context, participant persistence.Participant) error {
	if participant.Role == "" {
		participant.Role = "member"
	}
	if participant.CreatedAt.IsZero() {
		participant.CreatedAt = s.timestamp()
	}

	const query = `INSERT INTO participants (id, display_name, contact_key, role, created_at) VALUES (?, ?, ?, ?, ?)`
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			participant.ID,
			participant.DisplayName,
			participant.ContactKey,
			participant.Role,
			formatTime(participant.CreatedAt),
		)
		return err
	})
}

// GetParticipant returns the participant with id.
func (s *Store) GetParticipant(ctx context.Context, id string) (persistence.Participant, error) {
	return getParticipant(ctx, s.pool.DB(), id)
}

// ListParticipantsByContactKey returns the participants whose contact key is in keys.
func (s *Store) ListParticipantsByContactKey(ctx context.Context, keys []string) ([]persistence.Participant, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	query := `SELECT id, display_name, contact_key, role, created_at FROM participants WHERE contact_key IN (` + placeholders + `) ORDER BY contact_key`
	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewErrorMapper().MapError(err)
	}
	defer rows.Close()

	var participants []persistence.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (persistence.Participant, error) {
	var (
		p         persistence.Participant
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.DisplayName, &p.ContactKey, &p.Role, &createdAt); err != nil {
		return persistence.Participant{}, err
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return persistence.Participant{}, err
	}
	p.CreatedAt = ts
	return p, nil
}

func getParticipant(ctx context.Context, q queryer, id string) (persistence.Participant, error) {
	row := q.QueryRowContext(ctx, `SELECT id, display_name, contact_key, role, created_at FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Participant{}, &persistence.NotFoundError{Entity: "participant", ID: id}
	}
	if err != nil {
		return persistence.Participant{}, fmt.Errorf("sqlite: get participant: %w", err)
	}
	return p, nil
}

func requireParticipant(ctx context.Context, q queryer, id string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM participants WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &persistence.NotFoundError{Entity: "participant", ID: id}
	}
	return err
}
