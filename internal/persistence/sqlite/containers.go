package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

type containerTable struct {
	table   string
	members string
	column  string
	load    string
}

var containerTables = map[persistence.ContainerKind]containerTable{
	persistence.KindGroup: {
		table:   "groups",
		members: "group_members",
		column:  "group_id",
		load:    `SELECT id, '', 0, NULL, name, admin_id, version, created_at, updated_at FROM groups WHERE id = ?`,
	},
	persistence.KindSubgroup: {
		table:   "subgroups",
		members: "subgroup_members",
		column:  "subgroup_id",
		load:    `SELECT id, group_id, 0, NULL, name, admin_id, version, created_at, updated_at FROM subgroups WHERE id = ?`,
	},
	persistence.KindSessionGroup: {
		table:   "session_groups",
		members: "session_members",
		column:  "session_group_id",
		load:    `SELECT id, session_id, group_number, capacity, name, admin_id, version, created_at, updated_at FROM session_groups WHERE id = ?`,
	},
}

func tableFor(kind persistence.ContainerKind) (containerTable, error) {
	t, ok := containerTables[kind]
	if !ok {
		return containerTable{}, &persistence.InvalidMoveError{Reason: fmt.Sprintf("unknown container kind %q", kind)}
	}
	return t, nil
}

func loadContainer(ctx context.Context, q queryer, ref persistence.ContainerRef) (persistence.Container, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return persistence.Container{}, err
	}

	var (
		c                    persistence.Container
		capacity             sql.NullInt64
		adminID              sql.NullString
		createdAt, updatedAt string
	)
	err = q.QueryRowContext(ctx, t.load, ref.ID).Scan(
		&c.ID, &c.ParentID, &c.GroupNumber, &capacity, &c.Name, &adminID, &c.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Container{}, &persistence.NotFoundError{Entity: string(ref.Kind), ID: ref.ID}
	}
	if err != nil {
		return persistence.Container{}, fmt.Errorf("sqlite: load %s: %w", ref.Kind, err)
	}

	c.Kind = ref.Kind
	c.AdminID = stringPtr(adminID)
	if capacity.Valid {
		v := int(capacity.Int64)
		c.Capacity = &v
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Container{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Container{}, err
	}
	return c, nil
}

func loadContainerWithMembers(ctx context.Context, q queryer, ref persistence.ContainerRef) (persistence.Container, error) {
	c, err := loadContainer(ctx, q, ref)
	if err != nil {
		return persistence.Container{}, err
	}
	c.MemberIDs, err = memberIDs(ctx, q, ref)
	if err != nil {
		return persistence.Container{}, err
	}
	if c.MemberIDs == nil {
		c.MemberIDs = []string{}
	}
	return c, nil
}

func memberIDs(ctx context.Context, q queryer, ref persistence.ContainerRef) ([]string, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return nil, err
	}
	return queryIDs(ctx, q,
		fmt.Sprintf(`SELECT participant_id FROM %s WHERE %s = ? ORDER BY joined_at, participant_id`, t.members, t.column),
		ref.ID)
}

func countMembers(ctx context.Context, q queryer, ref persistence.ContainerRef) (int, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = ?`, t.members, t.column), ref.ID).Scan(&n)
	return n, err
}

func bumpVersion(ctx context.Context, q queryer, ref persistence.ContainerRef, at time.Time) (int64, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return 0, err
	}
	var version int64
	err = q.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s SET version = version + 1, updated_at = ? WHERE id = ? RETURNING version`, t.table),
		formatTime(at), ref.ID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &persistence.NotFoundError{Entity: string(ref.Kind), ID: ref.ID}
	}
	return version, err
}

// GetContainer returns the container with its members.
func (s *Store) GetContainer(ctx context.Context, ref persistence.ContainerRef) (persistence.Container, error) {
	var container persistence.Container
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		container, err = loadContainerWithMembers(ctx, tx, ref)
		return err
	})
	return container, err
}

// ContainerAdmins lists the participants allowed to administer ref: its own admin, the
// parent group's admin for subgroups, and the session creator for session groups and the pool.
func (s *Store) ContainerAdmins(ctx context.Context, ref persistence.ContainerRef) ([]string, error) {
	db := s.pool.DB()
	var admins []string
	add := func(id *string) {
		if id != nil && *id != "" {
			admins = append(admins, *id)
		}
	}

	if ref.IsUnassigned() {
		if ref.ID == "" {
			return nil, nil
		}
		session, err := getSession(ctx, db, ref.ID)
		if err != nil {
			return nil, err
		}
		add(&session.CreatedBy)
		return admins, nil
	}

	c, err := loadContainer(ctx, db, ref)
	if err != nil {
		return nil, err
	}
	add(c.AdminID)

	switch c.Kind {
	case persistence.KindSubgroup:
		parent, err := loadContainer(ctx, db, persistence.ContainerRef{Kind: persistence.KindGroup, ID: c.ParentID})
		if err != nil {
			return nil, err
		}
		add(parent.AdminID)
	case persistence.KindSessionGroup:
		session, err := getSession(ctx, db, c.ParentID)
		if err != nil {
			return nil, err
		}
		add(&session.CreatedBy)
	}
	return admins, nil
}

// CreateContainer inserts a group, subgroup or session group at version 1. Session groups
// are numbered within their session and default to the session's capacity.
func (s *Store) CreateContainer(ctx context.Context, spec persistence.ContainerSpec) (persistence.Container, persistence.ChangeLogEntry, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return persistence.Container{}, persistence.ChangeLogEntry{}, fmt.Errorf("%w: container name is required", persistence.ErrConstraintViolation)
	}
	if _, err := tableFor(spec.Kind); err != nil {
		return persistence.Container{}, persistence.ChangeLogEntry{}, err
	}
	if spec.Capacity != nil && spec.Kind != persistence.KindSessionGroup {
		return persistence.Container{}, persistence.ChangeLogEntry{}, fmt.Errorf("%w: capacity applies to session groups only", persistence.ErrConstraintViolation)
	}

	var (
		container persistence.Container
		entry     persistence.ChangeLogEntry
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		id := s.newID()
		if spec.AdminID != nil {
			if err := requireParticipant(ctx, tx, *spec.AdminID); err != nil {
				return err
			}
		}

		var err error
		switch spec.Kind {
		case persistence.KindGroup:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO groups (id, name, admin_id, version, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
				id, name, nullableString(spec.AdminID), formatTime(now), formatTime(now))
		case persistence.KindSubgroup:
			if _, err := loadContainer(ctx, tx, persistence.ContainerRef{Kind: persistence.KindGroup, ID: spec.ParentID}); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO subgroups (id, group_id, name, admin_id, version, created_at, updated_at) VALUES (?, ?, ?, ?, 1, ?, ?)`,
				id, spec.ParentID, name, nullableString(spec.AdminID), formatTime(now), formatTime(now))
		case persistence.KindSessionGroup:
			session, err := getSession(ctx, tx, spec.ParentID)
			if err != nil {
				return err
			}
			capacity := session.DefaultCapacity
			if spec.Capacity != nil {
				capacity = *spec.Capacity
			}
			var number int
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(group_number), 0) + 1 FROM session_groups WHERE session_id = ?`, spec.ParentID,
			).Scan(&number); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_groups (id, session_id, name, group_number, capacity, admin_id, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				id, spec.ParentID, name, number, capacity, nullableString(spec.AdminID), formatTime(now), formatTime(now),
			); err != nil {
				return err
			}
		}
		if err != nil {
			return err
		}

		ref := persistence.ContainerRef{Kind: spec.Kind, ID: id}
		container, err = loadContainerWithMembers(ctx, tx, ref)
		if err != nil {
			return err
		}
		entry, err = s.record(ctx, tx, now, persistence.ActionCreateGroup, "", nil, &ref, spec.ActorID, map[string]any{
			"name":     container.Name,
			"parentId": container.ParentID,
		})
		return err
	})
	if err != nil {
		return persistence.Container{}, persistence.ChangeLogEntry{}, err
	}
	return container, entry, nil
}

// UpdateContainer applies attribute changes and bumps the container version.
func (s *Store) UpdateContainer(ctx context.Context, patch persistence.ContainerPatch) (persistence.Container, persistence.ChangeLogEntry, error) {
	if (patch.Capacity != nil || patch.ClearCapacity) && patch.Ref.Kind != persistence.KindSessionGroup {
		return persistence.Container{}, persistence.ChangeLogEntry{}, fmt.Errorf("%w: capacity applies to session groups only", persistence.ErrConstraintViolation)
	}
	t, err := tableFor(patch.Ref.Kind)
	if err != nil {
		return persistence.Container{}, persistence.ChangeLogEntry{}, err
	}

	var (
		container persistence.Container
		entry     persistence.ChangeLogEntry
	)
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		current, err := loadContainer(ctx, tx, patch.Ref)
		if err != nil {
			return err
		}
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != current.Version {
			return &persistence.VersionConflictError{Ref: patch.Ref, Expected: *patch.ExpectedVersion, Current: current.Version}
		}

		changes := map[string]any{}
		var (
			sets []string
			args []any
		)
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return fmt.Errorf("%w: container name is required", persistence.ErrConstraintViolation)
			}
			sets = append(sets, "name = ?")
			args = append(args, name)
			changes["name"] = name
		}
		if patch.AdminID != nil {
			if *patch.AdminID == "" {
				sets = append(sets, "admin_id = NULL")
			} else {
				if err := requireParticipant(ctx, tx, *patch.AdminID); err != nil {
					return err
				}
				sets = append(sets, "admin_id = ?")
				args = append(args, *patch.AdminID)
			}
			changes["adminId"] = *patch.AdminID
		}
		switch {
		case patch.ClearCapacity:
			sets = append(sets, "capacity = NULL")
			changes["capacity"] = nil
		case patch.Capacity != nil:
			members, err := countMembers(ctx, tx, patch.Ref)
			if err != nil {
				return err
			}
			if members > *patch.Capacity {
				return &persistence.CapacityConflictError{Ref: patch.Ref, Capacity: *patch.Capacity, Members: members, Version: current.Version}
			}
			sets = append(sets, "capacity = ?")
			args = append(args, *patch.Capacity)
			changes["capacity"] = *patch.Capacity
		}

		if len(sets) > 0 {
			args = append(args, patch.Ref.ID)
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, t.table, strings.Join(sets, ", ")), args...,
			); err != nil {
				return err
			}
		}
		version, err := bumpVersion(ctx, tx, patch.Ref, now)
		if err != nil {
			return err
		}
		changes["version"] = version

		container, err = loadContainerWithMembers(ctx, tx, patch.Ref)
		if err != nil {
			return err
		}
		ref := patch.Ref
		entry, err = s.record(ctx, tx, now, persistence.ActionUpdateGroup, "", nil, &ref, patch.ActorID, changes)
		return err
	})
	if err != nil {
		return persistence.Container{}, persistence.ChangeLogEntry{}, err
	}
	return container, entry, nil
}

// DeleteContainer removes a container. Group deletion cascades to its subgroups; session
// group members return to the session's unassigned pool. Every detached membership is logged.
func (s *Store) DeleteContainer(ctx context.Context, ref persistence.ContainerRef, actorID string) (persistence.DeleteResult, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return persistence.DeleteResult{}, err
	}

	var result persistence.DeleteResult
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		result = persistence.DeleteResult{}
		now := s.timestamp()
		container, err := loadContainer(ctx, tx, ref)
		if err != nil {
			return err
		}

		details := map[string]any{"reason": "container_deleted"}
		seen := map[string]bool{}
		detach := func(owner persistence.ContainerRef, to *persistence.ContainerRef, action persistence.ChangeAction) error {
			members, err := memberIDs(ctx, tx, owner)
			if err != nil {
				return err
			}
			for _, pid := range members {
				from := owner
				entry, err := s.record(ctx, tx, now, action, pid, &from, to, actorID, details)
				if err != nil {
					return err
				}
				result.Entries = append(result.Entries, entry)
				if !seen[pid] {
					seen[pid] = true
					result.Detached = append(result.Detached, pid)
				}
			}
			return nil
		}

		switch ref.Kind {
		case persistence.KindGroup:
			subgroupIDs, err := queryIDs(ctx, tx, `SELECT id FROM subgroups WHERE group_id = ? ORDER BY created_at, id`, ref.ID)
			if err != nil {
				return err
			}
			for _, id := range subgroupIDs {
				if err := detach(persistence.ContainerRef{Kind: persistence.KindSubgroup, ID: id}, nil, persistence.ActionRemoveParticipant); err != nil {
					return err
				}
			}
			if err := detach(ref, nil, persistence.ActionRemoveParticipant); err != nil {
				return err
			}
		case persistence.KindSubgroup:
			if err := detach(ref, nil, persistence.ActionRemoveParticipant); err != nil {
				return err
			}
		case persistence.KindSessionGroup:
			pool := persistence.UnassignedPool(container.ParentID)
			if err := detach(ref, &pool, persistence.ActionMoveParticipant); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE session_members SET session_group_id = NULL, assigned_by = ?, joined_at = ? WHERE session_group_id = ?`,
				actorID, formatTime(now), ref.ID,
			); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.table), ref.ID)
		return err
	})
	if err != nil {
		return persistence.DeleteResult{}, err
	}
	return result, nil
}
