package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

const (
	// DefaultChangeLogLimit applies when a query does not set a limit.
	DefaultChangeLogLimit = 50
	// MaxChangeLogLimit caps the page size of change log queries.
	MaxChangeLogLimit = 200
)

// record appends one entry inside the caller's transaction.
func (s *Store) record(ctx context.Context, tx *sql.Tx, at time.Time, action persistence.ChangeAction, participantID string, from, to *persistence.ContainerRef, actorID string, details map[string]any) (persistence.ChangeLogEntry, error) {
	raw := json.RawMessage(`{}`)
	if len(details) > 0 {
		encoded, err := json.Marshal(details)
		if err != nil {
			return persistence.ChangeLogEntry{}, fmt.Errorf("sqlite: encode change details: %w", err)
		}
		raw = encoded
	}

	entry := persistence.ChangeLogEntry{
		ID:        s.newID(),
		Action:    action,
		From:      copyRef(from),
		To:        copyRef(to),
		ActorID:   actorID,
		Details:   raw,
		CreatedAt: at,
	}
	if participantID != "" {
		pid := participantID
		entry.ParticipantID = &pid
	}

	fromKind, fromID := refColumns(entry.From)
	toKind, toID := refColumns(entry.To)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO change_log (id, action, participant_id, from_kind, from_id, to_kind, to_id, actor_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Action), nullableString(entry.ParticipantID),
		fromKind, fromID, toKind, toID,
		entry.ActorID, string(entry.Details), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return persistence.ChangeLogEntry{}, err
	}
	return entry, nil
}

// QueryChangeLog returns entries newest first.
func (s *Store) QueryChangeLog(ctx context.Context, filter persistence.ChangeLogFilter) ([]persistence.ChangeLogEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.ParticipantID != "" {
		where = append(where, "participant_id = ?")
		args = append(args, filter.ParticipantID)
	}
	if filter.ContainerID != "" {
		where = append(where, "(from_id = ? OR to_id = ?)")
		args = append(args, filter.ContainerID, filter.ContainerID)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		where = append(where, "action IN ("+strings.TrimSuffix(strings.Repeat("?,", len(filter.Actions)), ",")+")")
		for _, action := range filter.Actions {
			args = append(args, string(action))
		}
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*filter.Until))
	}

	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = DefaultChangeLogLimit
	case limit > MaxChangeLogLimit:
		limit = MaxChangeLogLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, action, participant_id, from_kind, from_id, to_kind, to_id, actor_id, details, created_at FROM change_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewErrorMapper().MapError(err)
	}
	defer rows.Close()

	entries := make([]persistence.ChangeLogEntry, 0)
	for rows.Next() {
		var (
			entry                          persistence.ChangeLogEntry
			action, details, createdAt     string
			participantID                  sql.NullString
			fromKind, fromID, toKind, toID sql.NullString
		)
		if err := rows.Scan(&entry.ID, &action, &participantID, &fromKind, &fromID, &toKind, &toID, &entry.ActorID, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan change log: %w", err)
		}
		entry.Action = persistence.ChangeAction(action)
		entry.ParticipantID = stringPtr(participantID)
		entry.From = refFromColumns(fromKind, fromID)
		entry.To = refFromColumns(toKind, toID)
		entry.Details = json.RawMessage(details)
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func copyRef(ref *persistence.ContainerRef) *persistence.ContainerRef {
	if ref == nil {
		return nil
	}
	c := *ref
	return &c
}

func refColumns(ref *persistence.ContainerRef) (sql.NullString, sql.NullString) {
	if ref == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: string(ref.Kind), Valid: true}, sql.NullString{String: ref.ID, Valid: true}
}

func refFromColumns(kind, id sql.NullString) *persistence.ContainerRef {
	if !kind.Valid {
		return nil
	}
	return &persistence.ContainerRef{Kind: persistence.ContainerKind(kind.String), ID: id.String}
}
