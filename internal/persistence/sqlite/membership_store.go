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

func isPool(ref *persistence.ContainerRef) bool {
	return ref == nil || ref.IsUnassigned()
}

// moveKind validates the shape of a move and returns the kind of container involved.
// Nil ends mean "unassigned"; the explicit unassigned sentinel only exists inside sessions.
func moveKind(req persistence.MoveRequest) (persistence.ContainerKind, error) {
	if strings.TrimSpace(req.ParticipantID) == "" {
		return "", &persistence.InvalidMoveError{Reason: "participant id is required"}
	}
	if isPool(req.From) && isPool(req.To) {
		return "", &persistence.InvalidMoveError{Reason: "source and destination are both unassigned"}
	}
	for _, ref := range []*persistence.ContainerRef{req.From, req.To} {
		if isPool(ref) {
			continue
		}
		if !ref.Kind.Valid() {
			return "", &persistence.InvalidMoveError{Reason: fmt.Sprintf("unknown container kind %q", ref.Kind)}
		}
		if strings.TrimSpace(ref.ID) == "" {
			return "", &persistence.InvalidMoveError{Reason: "container id is required"}
		}
	}

	var kind persistence.ContainerKind
	switch {
	case isPool(req.From):
		kind = req.To.Kind
	case isPool(req.To):
		kind = req.From.Kind
	default:
		if req.From.Kind != req.To.Kind {
			return "", &persistence.InvalidMoveError{Reason: fmt.Sprintf("cannot move between %s and %s", req.From.Kind, req.To.Kind)}
		}
		if *req.From == *req.To {
			return "", &persistence.InvalidMoveError{Reason: "source and destination are the same container"}
		}
		kind = req.From.Kind
	}

	if kind != persistence.KindSessionGroup {
		for _, ref := range []*persistence.ContainerRef{req.From, req.To} {
			if ref != nil && ref.IsUnassigned() {
				return "", &persistence.InvalidMoveError{Reason: "the unassigned pool only exists inside sessions"}
			}
		}
	}
	return kind, nil
}

// MoveParticipant moves one participant between two containers of the same kind, or
// between a container and "unassigned", as one atomic write with one log entry.
func (s *Store) MoveParticipant(ctx context.Context, req persistence.MoveRequest) (persistence.MoveResult, error) {
	kind, err := moveKind(req)
	if err != nil {
		return persistence.MoveResult{}, err
	}

	var result persistence.MoveResult
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		result = persistence.MoveResult{}
		now := s.timestamp()

		if err := requireParticipant(ctx, tx, req.ParticipantID); err != nil {
			return err
		}
		var src, dst *persistence.Container
		if !isPool(req.From) {
			c, err := loadContainer(ctx, tx, *req.From)
			if err != nil {
				return err
			}
			src = &c
		}
		if !isPool(req.To) {
			c, err := loadContainer(ctx, tx, *req.To)
			if err != nil {
				return err
			}
			dst = &c
		}

		gate := src
		if gate == nil {
			gate = dst
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != gate.Version {
			return &persistence.VersionConflictError{Ref: gate.Ref(), Expected: *req.ExpectedVersion, Current: gate.Version}
		}

		var (
			eff moveEffect
			err error
		)
		switch kind {
		case persistence.KindSessionGroup:
			eff, err = moveInSession(ctx, tx, req, src, dst, now)
		case persistence.KindGroup:
			eff, err = moveBetweenGroups(ctx, tx, req, src, dst, now)
		case persistence.KindSubgroup:
			eff, err = moveBetweenSubgroups(ctx, tx, req, src, dst, now)
		}
		if err != nil {
			return err
		}

		result.Versions = make(map[string]int64, 2)
		for _, c := range []*persistence.Container{src, dst} {
			if c == nil {
				continue
			}
			version, err := bumpVersion(ctx, tx, c.Ref(), now)
			if err != nil {
				return err
			}
			result.Versions[c.ID] = version
		}
		result.NewVersion = result.Versions[gate.ID]

		details := map[string]any{"versions": result.Versions}
		if req.ExpectedVersion != nil {
			details["expectedVersion"] = *req.ExpectedVersion
		}
		result.Entry, err = s.record(ctx, tx, now, eff.action, req.ParticipantID, eff.from, eff.to, req.ActorID, details)
		return err
	})
	if err != nil {
		return persistence.MoveResult{}, err
	}
	return result, nil
}

// moveEffect is what a move looks like in the change log.
type moveEffect struct {
	action   persistence.ChangeAction
	from, to *persistence.ContainerRef
}

func moveInSession(ctx context.Context, tx *sql.Tx, req persistence.MoveRequest, src, dst *persistence.Container, now time.Time) (moveEffect, error) {
	if src != nil && dst != nil && src.ParentID != dst.ParentID {
		return moveEffect{}, &persistence.InvalidMoveError{Reason: "session groups belong to different sessions"}
	}
	var sessionID string
	if src != nil {
		sessionID = src.ParentID
	} else {
		sessionID = dst.ParentID
	}
	for _, ref := range []*persistence.ContainerRef{req.From, req.To} {
		if ref != nil && ref.IsUnassigned() && ref.ID != "" && ref.ID != sessionID {
			return moveEffect{}, &persistence.InvalidMoveError{Reason: "the unassigned pool belongs to a different session"}
		}
	}

	current, ok, err := sessionPlacement(ctx, tx, sessionID, req.ParticipantID)
	if err != nil {
		return moveEffect{}, err
	}
	if !ok {
		return moveEffect{}, &persistence.InvariantViolationError{
			ParticipantID: req.ParticipantID,
			Reason:        fmt.Sprintf("participant is not part of session %s", sessionID),
		}
	}
	stated := ""
	if src != nil {
		stated = src.ID
	}
	if current != stated {
		return moveEffect{}, &persistence.InvariantViolationError{
			ParticipantID: req.ParticipantID,
			Reason:        fmt.Sprintf("participant is in %s, not %s", placementName(current), placementName(stated)),
		}
	}

	var target sql.NullString
	if dst != nil {
		if err := checkCapacity(ctx, tx, *dst, 1); err != nil {
			return moveEffect{}, err
		}
		target = sql.NullString{String: dst.ID, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE session_members SET session_group_id = ?, assigned_by = ?, joined_at = ? WHERE session_id = ? AND participant_id = ?`,
		target, req.ActorID, formatTime(now), sessionID, req.ParticipantID,
	); err != nil {
		return moveEffect{}, err
	}

	pool := persistence.UnassignedPool(sessionID)
	eff := moveEffect{action: persistence.ActionMoveParticipant, from: &pool, to: &pool}
	if src != nil {
		ref := src.Ref()
		eff.from = &ref
	}
	if dst != nil {
		ref := dst.Ref()
		eff.to = &ref
	}
	return eff, nil
}

func moveBetweenGroups(ctx context.Context, tx *sql.Tx, req persistence.MoveRequest, src, dst *persistence.Container, now time.Time) (moveEffect, error) {
	if src != nil {
		member, err := isGroupMember(ctx, tx, src.ID, req.ParticipantID)
		if err != nil {
			return moveEffect{}, err
		}
		if !member {
			return moveEffect{}, &persistence.InvariantViolationError{
				ParticipantID: req.ParticipantID,
				Reason:        fmt.Sprintf("participant is not a member of group %s", src.ID),
			}
		}
	}
	if dst != nil {
		member, err := isGroupMember(ctx, tx, dst.ID, req.ParticipantID)
		if err != nil {
			return moveEffect{}, err
		}
		if member {
			return moveEffect{}, &persistence.InvariantViolationError{
				ParticipantID: req.ParticipantID,
				Reason:        fmt.Sprintf("participant is already a member of group %s", dst.ID),
			}
		}
	}

	if src != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND participant_id = ?`, src.ID, req.ParticipantID); err != nil {
			return moveEffect{}, err
		}
	}
	if dst != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, participant_id, assigned_by, joined_at) VALUES (?, ?, ?, ?)`,
			dst.ID, req.ParticipantID, req.ActorID, formatTime(now),
		); err != nil {
			return moveEffect{}, err
		}
	}
	return edgeEffect(src, dst), nil
}

func moveBetweenSubgroups(ctx context.Context, tx *sql.Tx, req persistence.MoveRequest, src, dst *persistence.Container, now time.Time) (moveEffect, error) {
	if src != nil {
		current, ok, err := subgroupOf(ctx, tx, src.ParentID, req.ParticipantID)
		if err != nil {
			return moveEffect{}, err
		}
		if !ok || current != src.ID {
			return moveEffect{}, &persistence.InvariantViolationError{
				ParticipantID: req.ParticipantID,
				Reason:        fmt.Sprintf("participant is not a member of subgroup %s", src.ID),
			}
		}
	}
	if dst != nil {
		current, ok, err := subgroupOf(ctx, tx, dst.ParentID, req.ParticipantID)
		if err != nil {
			return moveEffect{}, err
		}
		if ok && (src == nil || current != src.ID) {
			return moveEffect{}, &persistence.InvariantViolationError{
				ParticipantID: req.ParticipantID,
				Reason:        fmt.Sprintf("participant is already in subgroup %s of group %s", current, dst.ParentID),
			}
		}
	}

	if src != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subgroup_members WHERE subgroup_id = ? AND participant_id = ?`, src.ID, req.ParticipantID); err != nil {
			return moveEffect{}, err
		}
	}
	if dst != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subgroup_members (subgroup_id, group_id, participant_id, assigned_by, joined_at) VALUES (?, ?, ?, ?, ?)`,
			dst.ID, dst.ParentID, req.ParticipantID, req.ActorID, formatTime(now),
		); err != nil {
			return moveEffect{}, err
		}
	}
	return edgeEffect(src, dst), nil
}

// edgeEffect describes a group or subgroup move, where a missing end means detached.
func edgeEffect(src, dst *persistence.Container) moveEffect {
	var eff moveEffect
	if src != nil {
		ref := src.Ref()
		eff.from = &ref
	}
	if dst != nil {
		ref := dst.Ref()
		eff.to = &ref
	}
	switch {
	case src == nil:
		eff.action = persistence.ActionAddParticipant
	case dst == nil:
		eff.action = persistence.ActionRemoveParticipant
	default:
		eff.action = persistence.ActionMoveParticipant
	}
	return eff
}

func checkCapacity(ctx context.Context, q queryer, c persistence.Container, incoming int) error {
	if c.Capacity == nil || incoming == 0 {
		return nil
	}
	members, err := countMembers(ctx, q, c.Ref())
	if err != nil {
		return err
	}
	if members+incoming > *c.Capacity {
		return &persistence.CapacityConflictError{Ref: c.Ref(), Capacity: *c.Capacity, Members: members, Version: c.Version}
	}
	return nil
}

func isGroupMember(ctx context.Context, q queryer, groupID, participantID string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM group_members WHERE group_id = ? AND participant_id = ?`, groupID, participantID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// subgroupOf returns the subgroup of groupID the participant belongs to, if any.
func subgroupOf(ctx context.Context, q queryer, groupID, participantID string) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT subgroup_id FROM subgroup_members WHERE group_id = ? AND participant_id = ?`, groupID, participantID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func placementName(groupID string) string {
	if groupID == "" {
		return "the unassigned pool"
	}
	return "session group " + groupID
}

// AssignMany adds participants to a container. Participants sitting in a sibling subgroup
// of the same parent group, or in another group of the same session, are moved; those
// already in the container are reported unchanged. Capacity is checked for the whole batch.
func (s *Store) AssignMany(ctx context.Context, ref persistence.ContainerRef, participantIDs []string, actorID string) (persistence.AssignResult, error) {
	if !ref.Kind.Valid() {
		return persistence.AssignResult{}, &persistence.InvalidMoveError{Reason: "bulk assignment needs a group, subgroup or session group"}
	}
	ids := uniqueIDs(participantIDs)
	if len(ids) == 0 {
		return persistence.AssignResult{}, &persistence.InvalidMoveError{Reason: "no participants to assign"}
	}

	type placement struct {
		id      string
		sibling string // current sibling container, "" when none
		inScope bool   // already part of the session (session groups only)
	}

	var result persistence.AssignResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = persistence.AssignResult{}
		now := s.timestamp()
		target, err := loadContainer(ctx, tx, ref)
		if err != nil {
			return err
		}

		var incoming []placement
		for _, id := range ids {
			if err := requireParticipant(ctx, tx, id); err != nil {
				return err
			}
			p := placement{id: id}
			switch ref.Kind {
			case persistence.KindGroup:
				member, err := isGroupMember(ctx, tx, ref.ID, id)
				if err != nil {
					return err
				}
				if member {
					result.Unchanged = append(result.Unchanged, id)
					continue
				}
			case persistence.KindSubgroup:
				current, ok, err := subgroupOf(ctx, tx, target.ParentID, id)
				if err != nil {
					return err
				}
				if ok && current == ref.ID {
					result.Unchanged = append(result.Unchanged, id)
					continue
				}
				p.sibling = current
			case persistence.KindSessionGroup:
				current, ok, err := sessionPlacement(ctx, tx, target.ParentID, id)
				if err != nil {
					return err
				}
				if ok && current == ref.ID {
					result.Unchanged = append(result.Unchanged, id)
					continue
				}
				p.sibling, p.inScope = current, ok
			}
			incoming = append(incoming, p)
		}

		if err := checkCapacity(ctx, tx, target, len(incoming)); err != nil {
			return err
		}
		result.NewVersion = target.Version
		if len(incoming) == 0 {
			return nil
		}

		siblingKind := ref.Kind
		touched := map[string]bool{}
		var touchedOrder []string
		pool := persistence.UnassignedPool(target.ParentID)
		to := target.Ref()

		for _, p := range incoming {
			var (
				action = persistence.ActionAddParticipant
				from   *persistence.ContainerRef
			)
			if p.sibling != "" {
				sib := persistence.ContainerRef{Kind: siblingKind, ID: p.sibling}
				from = &sib
				action = persistence.ActionMoveParticipant
				if !touched[p.sibling] {
					touched[p.sibling] = true
					touchedOrder = append(touchedOrder, p.sibling)
				}
			}

			switch ref.Kind {
			case persistence.KindGroup:
				_, err = tx.ExecContext(ctx,
					`INSERT INTO group_members (group_id, participant_id, assigned_by, joined_at) VALUES (?, ?, ?, ?)`,
					ref.ID, p.id, actorID, formatTime(now))
			case persistence.KindSubgroup:
				if p.sibling != "" {
					if _, err := tx.ExecContext(ctx, `DELETE FROM subgroup_members WHERE subgroup_id = ? AND participant_id = ?`, p.sibling, p.id); err != nil {
						return err
					}
				}
				_, err = tx.ExecContext(ctx,
					`INSERT INTO subgroup_members (subgroup_id, group_id, participant_id, assigned_by, joined_at) VALUES (?, ?, ?, ?, ?)`,
					ref.ID, target.ParentID, p.id, actorID, formatTime(now))
			case persistence.KindSessionGroup:
				if p.inScope {
					if p.sibling == "" {
						from = &pool
						action = persistence.ActionMoveParticipant
					}
					_, err = tx.ExecContext(ctx,
						`UPDATE session_members SET session_group_id = ?, assigned_by = ?, joined_at = ? WHERE session_id = ? AND participant_id = ?`,
						ref.ID, actorID, formatTime(now), target.ParentID, p.id)
				} else {
					_, err = tx.ExecContext(ctx,
						`INSERT INTO session_members (session_id, participant_id, session_group_id, assigned_by, joined_at) VALUES (?, ?, ?, ?, ?)`,
						target.ParentID, p.id, ref.ID, actorID, formatTime(now))
				}
			}
			if err != nil {
				return err
			}

			if p.sibling != "" {
				result.Moved = append(result.Moved, p.id)
			} else {
				result.Added = append(result.Added, p.id)
			}
			entry, err := s.record(ctx, tx, now, action, p.id, from, &to, actorID, map[string]any{"bulk": true})
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, entry)
		}

		for _, id := range touchedOrder {
			if _, err := bumpVersion(ctx, tx, persistence.ContainerRef{Kind: siblingKind, ID: id}, now); err != nil {
				return err
			}
		}
		result.NewVersion, err = bumpVersion(ctx, tx, to, now)
		return err
	})
	if err != nil {
		return persistence.AssignResult{}, err
	}
	return result, nil
}

// RemoveFromAllContainers detaches a participant from every group and subgroup and returns
// it to the unassigned pool of every session where it sits in a group. One entry per edge.
func (s *Store) RemoveFromAllContainers(ctx context.Context, participantID, actorID string) (persistence.RemoveResult, error) {
	var result persistence.RemoveResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = persistence.RemoveResult{}
		now := s.timestamp()
		if err := requireParticipant(ctx, tx, participantID); err != nil {
			return err
		}
		details := map[string]any{"reason": "removed_from_all"}

		subgroups, err := queryIDs(ctx, tx, `SELECT subgroup_id FROM subgroup_members WHERE participant_id = ? ORDER BY subgroup_id`, participantID)
		if err != nil {
			return err
		}
		for _, id := range subgroups {
			ref := persistence.ContainerRef{Kind: persistence.KindSubgroup, ID: id}
			if _, err := tx.ExecContext(ctx, `DELETE FROM subgroup_members WHERE subgroup_id = ? AND participant_id = ?`, id, participantID); err != nil {
				return err
			}
			if err := s.detached(ctx, tx, &result, now, persistence.ActionRemoveParticipant, participantID, ref, nil, actorID, details); err != nil {
				return err
			}
		}

		groups, err := queryIDs(ctx, tx, `SELECT group_id FROM group_members WHERE participant_id = ? ORDER BY group_id`, participantID)
		if err != nil {
			return err
		}
		for _, id := range groups {
			ref := persistence.ContainerRef{Kind: persistence.KindGroup, ID: id}
			if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND participant_id = ?`, id, participantID); err != nil {
				return err
			}
			if err := s.detached(ctx, tx, &result, now, persistence.ActionRemoveParticipant, participantID, ref, nil, actorID, details); err != nil {
				return err
			}
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT session_id, session_group_id FROM session_members WHERE participant_id = ? AND session_group_id IS NOT NULL ORDER BY session_id`,
			participantID)
		if err != nil {
			return err
		}
		type seat struct{ session, group string }
		var seats []seat
		for rows.Next() {
			var st seat
			if err := rows.Scan(&st.session, &st.group); err != nil {
				rows.Close()
				return err
			}
			seats = append(seats, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, st := range seats {
			if _, err := tx.ExecContext(ctx,
				`UPDATE session_members SET session_group_id = NULL, assigned_by = ?, joined_at = ? WHERE session_id = ? AND participant_id = ?`,
				actorID, formatTime(now), st.session, participantID,
			); err != nil {
				return err
			}
			pool := persistence.UnassignedPool(st.session)
			ref := persistence.ContainerRef{Kind: persistence.KindSessionGroup, ID: st.group}
			if err := s.detached(ctx, tx, &result, now, persistence.ActionMoveParticipant, participantID, ref, &pool, actorID, details); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistence.RemoveResult{}, err
	}
	return result, nil
}

func (s *Store) detached(ctx context.Context, tx *sql.Tx, result *persistence.RemoveResult, now time.Time, action persistence.ChangeAction, participantID string, from persistence.ContainerRef, to *persistence.ContainerRef, actorID string, details map[string]any) error {
	if _, err := bumpVersion(ctx, tx, from, now); err != nil {
		return err
	}
	entry, err := s.record(ctx, tx, now, action, participantID, &from, to, actorID, details)
	if err != nil {
		return err
	}
	result.Removed++
	result.Entries = append(result.Entries, entry)
	return nil
}

// uniqueIDs trims ids and drops blanks and repeats, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
