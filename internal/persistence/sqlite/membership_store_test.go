package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
	"github.com/kiyo123456/Tatemoku-management/internal/testfixtures"
)

func ref(kind persistence.ContainerKind, id string) *persistence.ContainerRef {
	return &persistence.ContainerRef{Kind: kind, ID: id}
}

func pool(sessionID string) *persistence.ContainerRef {
	p := persistence.UnassignedPool(sessionID)
	return &p
}

func changeCount(t *testing.T, h *testfixtures.SQLiteHarness) int {
	t.Helper()
	entries, err := h.Store.QueryChangeLog(context.Background(), persistence.ChangeLogFilter{Limit: 200})
	require.NoError(t, err)
	return len(entries)
}

func TestMoveParticipant_SessionPoolAndGroups(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice", "bob")
	session := h.MustSession(t, testfixtures.NewSessionFixture(), "alice", "bob")
	g1 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "Group 1", ParentID: session.ID})
	g2 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "Group 2", ParentID: session.ID})
	assert.Equal(t, 1, g1.GroupNumber)
	assert.Equal(t, 2, g2.GroupNumber)
	require.NotNil(t, g1.Capacity)
	assert.Equal(t, 6, *g1.Capacity)

	res, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{
		ParticipantID: "alice", From: pool(session.ID), To: ref(persistence.KindSessionGroup, g1.ID), ActorID: "organizer",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NewVersion)
	assert.Equal(t, persistence.ActionMoveParticipant, res.Entry.Action)
	require.NotNil(t, res.Entry.From)
	assert.Equal(t, persistence.UnassignedPool(session.ID), *res.Entry.From)
	assert.Equal(t, g1.ID, res.Entry.To.ID)

	res, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{
		ParticipantID: "alice", From: ref(persistence.KindSessionGroup, g1.ID), To: ref(persistence.KindSessionGroup, g2.ID),
		ExpectedVersion: testfixtures.Int64Ptr(2), ActorID: "organizer",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.NewVersion)
	assert.Equal(t, int64(2), res.Versions[g2.ID])

	res, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{
		ParticipantID: "alice", From: ref(persistence.KindSessionGroup, g2.ID), To: nil, ActorID: "organizer",
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.UnassignedPool(session.ID), *res.Entry.To)

	layout, err := h.Store.SessionLayout(ctx, session.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, layout.Unassigned)
	require.Len(t, layout.Groups, 2)
	assert.Empty(t, layout.Groups[0].MemberIDs)
	assert.Empty(t, layout.Groups[1].MemberIDs)
}

func TestMoveParticipant_VersionConflictLeavesStateUntouched(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice", "bob", "carol")
	group := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G1"})

	for _, id := range []string{"alice", "bob"} {
		_, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: id, To: ref(persistence.KindGroup, group.ID), ActorID: "admin"})
		require.NoError(t, err)
	}
	current, err := h.Store.GetContainer(ctx, group.Ref())
	require.NoError(t, err)
	require.Equal(t, int64(3), current.Version)
	before := changeCount(t, h)

	_, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{
		ParticipantID: "carol", To: ref(persistence.KindGroup, group.ID), ExpectedVersion: testfixtures.Int64Ptr(2), ActorID: "admin",
	})
	var conflict *persistence.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(3), conflict.Current)
	assert.Equal(t, int64(2), conflict.Expected)

	after, err := h.Store.GetContainer(ctx, group.Ref())
	require.NoError(t, err)
	assert.Equal(t, int64(3), after.Version)
	assert.ElementsMatch(t, []string{"alice", "bob"}, after.MemberIDs)
	assert.Equal(t, before, changeCount(t, h))
}

func TestMoveParticipant_ConcurrentMovesSameVersionOneWins(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	const movers = 10
	ids := make([]string, movers)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i)
	}
	h.MustParticipants(t, ids...)
	session := h.MustSession(t, testfixtures.NewSessionFixture(), ids...)
	target := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "Group 1", ParentID: session.ID})
	require.Equal(t, int64(1), target.Version)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, movers)
	)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			_, errs[i] = h.Store.MoveParticipant(ctx, persistence.MoveRequest{
				ParticipantID:   id,
				From:            pool(session.ID),
				To:              ref(persistence.KindSessionGroup, target.ID),
				ExpectedVersion: testfixtures.Int64Ptr(1),
				ActorID:         "organizer",
			})
		}(i, id)
	}
	close(start)
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		var conflict *persistence.VersionConflictError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &conflict):
			conflicts++
			assert.Equal(t, int64(1), conflict.Expected)
			assert.Equal(t, int64(2), conflict.Current)
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, movers-1, conflicts)

	after, err := h.Store.GetContainer(ctx, target.Ref())
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.Version)
	assert.Len(t, after.MemberIDs, 1)
}

func TestMoveParticipant_CapacityConflictRollsBack(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice", "bob")
	session := h.MustSession(t, testfixtures.NewSessionFixture(), "alice", "bob")
	full := h.MustContainer(t, persistence.ContainerSpec{
		Kind: persistence.KindSessionGroup, Name: "Full", ParentID: session.ID, Capacity: testfixtures.IntPtr(1),
	})
	_, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", To: ref(persistence.KindSessionGroup, full.ID), ActorID: "organizer"})
	require.NoError(t, err)
	before := changeCount(t, h)

	_, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "bob", From: pool(session.ID), To: ref(persistence.KindSessionGroup, full.ID), ActorID: "organizer"})
	var capacity *persistence.CapacityConflictError
	require.ErrorAs(t, err, &capacity)
	assert.Equal(t, 1, capacity.Capacity)
	assert.Equal(t, 1, capacity.Members)

	layout, err := h.Store.SessionLayout(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, layout.Unassigned)
	assert.Equal(t, before, changeCount(t, h))
}

func TestMoveParticipant_StatedSourceMustMatch(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice", "outsider")
	session := h.MustSession(t, testfixtures.NewSessionFixture(), "alice")
	g1 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "G1", ParentID: session.ID})
	g2 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "G2", ParentID: session.ID})
	_, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", To: ref(persistence.KindSessionGroup, g1.ID), ActorID: "organizer"})
	require.NoError(t, err)

	var violation *persistence.InvariantViolationError
	_, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", From: pool(session.ID), To: ref(persistence.KindSessionGroup, g2.ID), ActorID: "organizer"})
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "alice", violation.ParticipantID)

	_, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "outsider", To: ref(persistence.KindSessionGroup, g2.ID), ActorID: "organizer"})
	require.ErrorAs(t, err, &violation)

	layout, err := h.Store.SessionLayout(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, layout.Groups[0].MemberIDs)
	assert.Empty(t, layout.Groups[1].MemberIDs)
}

func TestMoveParticipant_InvalidShapes(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice")
	group := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G"})
	sub := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSubgroup, Name: "S", ParentID: group.ID})

	tests := []struct {
		name     string
		from, to *persistence.ContainerRef
	}{
		{name: "both unassigned", from: nil, to: nil},
		{name: "pool to pool", from: pool("s1"), to: nil},
		{name: "same container", from: ref(persistence.KindGroup, group.ID), to: ref(persistence.KindGroup, group.ID)},
		{name: "mixed kinds", from: ref(persistence.KindGroup, group.ID), to: ref(persistence.KindSubgroup, sub.ID)},
		{name: "explicit pool with group", from: pool(""), to: ref(persistence.KindGroup, group.ID)},
		{name: "unknown kind", from: nil, to: ref("team", "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", From: tt.from, To: tt.to, ActorID: "admin"})
			assert.ErrorIs(t, err, persistence.ErrInvalidMove)
		})
	}

	_, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "ghost", To: ref(persistence.KindGroup, group.ID), ActorID: "admin"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", To: ref(persistence.KindGroup, "missing"), ActorID: "admin"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestMoveParticipant_GroupActions(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice")
	g1 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G1"})
	g2 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G2"})

	res, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", To: ref(persistence.KindGroup, g1.ID), ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, persistence.ActionAddParticipant, res.Entry.Action)
	assert.Nil(t, res.Entry.From)

	res, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", From: ref(persistence.KindGroup, g1.ID), To: ref(persistence.KindGroup, g2.ID), ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, persistence.ActionMoveParticipant, res.Entry.Action)
	assert.Len(t, res.Versions, 2)

	res, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", From: ref(persistence.KindGroup, g2.ID), ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, persistence.ActionRemoveParticipant, res.Entry.Action)
	assert.Nil(t, res.Entry.To)

	_, err = h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: "alice", From: ref(persistence.KindGroup, g2.ID), ActorID: "admin"})
	var violation *persistence.InvariantViolationError
	assert.ErrorAs(t, err, &violation)
}

func TestAssignMany_PullsFromSiblingSubgroup(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice", "bob", "carol")
	group := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G"})
	s1 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSubgroup, Name: "S1", ParentID: group.ID})
	s2 := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSubgroup, Name: "S2", ParentID: group.ID})

	_, err := h.Store.AssignMany(ctx, s1.Ref(), []string{"alice", "carol"}, "admin")
	require.NoError(t, err)

	res, err := h.Store.AssignMany(ctx, s2.Ref(), []string{"alice", "bob", "bob", " "}, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, res.Moved)
	assert.Equal(t, []string{"bob"}, res.Added)
	assert.Empty(t, res.Unchanged)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, persistence.ActionMoveParticipant, res.Entries[0].Action)
	assert.Equal(t, s1.ID, res.Entries[0].From.ID)
	assert.Equal(t, persistence.ActionAddParticipant, res.Entries[1].Action)
	assert.Equal(t, int64(2), res.NewVersion)

	again, err := h.Store.AssignMany(ctx, s2.Ref(), []string{"alice"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, again.Unchanged)
	assert.Empty(t, again.Entries)
	assert.Equal(t, int64(2), again.NewVersion)

	left, err := h.Store.GetContainer(ctx, s1.Ref())
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, left.MemberIDs)
	assert.Equal(t, int64(3), left.Version)
}

func TestAssignMany_SessionGroupCapacityForWholeBatch(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "a", "b", "c", "late")
	session := h.MustSession(t, testfixtures.NewSessionFixture(testfixtures.WithDefaultCapacity(2)), "a", "b", "c")
	sg := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "G1", ParentID: session.ID})

	_, err := h.Store.AssignMany(ctx, sg.Ref(), []string{"a", "b", "c"}, "organizer")
	var capacity *persistence.CapacityConflictError
	require.ErrorAs(t, err, &capacity)
	assert.Equal(t, 2, capacity.Capacity)
	assert.Equal(t, 0, capacity.Members)

	res, err := h.Store.AssignMany(ctx, sg.Ref(), []string{"a", "late"}, "organizer")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "late"}, res.Added)
	assert.Equal(t, persistence.ActionMoveParticipant, res.Entries[0].Action)
	assert.Equal(t, persistence.ActionAddParticipant, res.Entries[1].Action)

	layout, err := h.Store.SessionLayout(ctx, session.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, layout.Unassigned)
	assert.ElementsMatch(t, []string{"a", "late"}, layout.Groups[0].MemberIDs)
}

func TestRemoveFromAllContainers(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice")
	group := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G"})
	sub := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSubgroup, Name: "S", ParentID: group.ID})
	session := h.MustSession(t, testfixtures.NewSessionFixture(), "alice")
	sg := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "SG", ParentID: session.ID})

	for _, r := range []persistence.ContainerRef{group.Ref(), sub.Ref(), sg.Ref()} {
		_, err := h.Store.AssignMany(ctx, r, []string{"alice"}, "admin")
		require.NoError(t, err)
	}

	res, err := h.Store.RemoveFromAllContainers(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Removed)
	require.Len(t, res.Entries, 3)

	layout, err := h.Store.SessionLayout(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, layout.Unassigned)

	again, err := h.Store.RemoveFromAllContainers(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Zero(t, again.Removed)

	_, err = h.Store.RemoveFromAllContainers(ctx, "ghost", "admin")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestDeleteContainer(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "alice", "bob")

	t.Run("group cascades to subgroups", func(t *testing.T) {
		group := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G"})
		sub := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSubgroup, Name: "S", ParentID: group.ID})
		_, err := h.Store.AssignMany(ctx, group.Ref(), []string{"alice", "bob"}, "admin")
		require.NoError(t, err)
		_, err = h.Store.AssignMany(ctx, sub.Ref(), []string{"alice"}, "admin")
		require.NoError(t, err)

		res, err := h.Store.DeleteContainer(ctx, group.Ref(), "admin")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alice", "bob"}, res.Detached)
		assert.Len(t, res.Entries, 3)

		_, err = h.Store.GetContainer(ctx, sub.Ref())
		assert.ErrorIs(t, err, persistence.ErrNotFound)

		var orphans int
		require.NoError(t, h.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM subgroup_members WHERE subgroup_id = ?`, sub.ID).Scan(&orphans))
		assert.Zero(t, orphans)
	})

	t.Run("session group members return to the pool", func(t *testing.T) {
		session := h.MustSession(t, testfixtures.NewSessionFixture(), "alice", "bob")
		sg := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "SG", ParentID: session.ID})
		_, err := h.Store.AssignMany(ctx, sg.Ref(), []string{"alice"}, "organizer")
		require.NoError(t, err)

		res, err := h.Store.DeleteContainer(ctx, sg.Ref(), "organizer")
		require.NoError(t, err)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, persistence.UnassignedPool(session.ID), *res.Entries[0].To)

		layout, err := h.Store.SessionLayout(ctx, session.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alice", "bob"}, layout.Unassigned)
		assert.Empty(t, layout.Groups)
	})
}

func TestUpdateContainer(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "a", "b")
	session := h.MustSession(t, testfixtures.NewSessionFixture(), "a", "b")
	sg := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "SG", ParentID: session.ID})
	_, err := h.Store.AssignMany(ctx, sg.Ref(), []string{"a", "b"}, "organizer")
	require.NoError(t, err)

	_, _, err = h.Store.UpdateContainer(ctx, persistence.ContainerPatch{Ref: sg.Ref(), Capacity: testfixtures.IntPtr(1), ActorID: "organizer"})
	var capacity *persistence.CapacityConflictError
	require.ErrorAs(t, err, &capacity)

	updated, entry, err := h.Store.UpdateContainer(ctx, persistence.ContainerPatch{
		Ref: sg.Ref(), Name: testfixtures.StringPtr("Renamed"), ExpectedVersion: testfixtures.Int64Ptr(2), ActorID: "organizer",
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, int64(3), updated.Version)
	assert.Equal(t, persistence.ActionUpdateGroup, entry.Action)

	_, _, err = h.Store.UpdateContainer(ctx, persistence.ContainerPatch{Ref: sg.Ref(), Name: testfixtures.StringPtr("x"), ExpectedVersion: testfixtures.Int64Ptr(2)})
	var conflict *persistence.VersionConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestContainerAdmins(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	h.MustParticipants(t, "owner", "lead", "organizer")
	group := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindGroup, Name: "G", AdminID: testfixtures.StringPtr("owner")})
	sub := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSubgroup, Name: "S", ParentID: group.ID, AdminID: testfixtures.StringPtr("lead")})
	session := h.MustSession(t, testfixtures.NewSessionFixture(testfixtures.WithSessionCreator("organizer")))
	sg := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: "SG", ParentID: session.ID})

	admins, err := h.Store.ContainerAdmins(ctx, sub.Ref())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lead", "owner"}, admins)

	admins, err = h.Store.ContainerAdmins(ctx, sg.Ref())
	require.NoError(t, err)
	assert.Equal(t, []string{"organizer"}, admins)

	admins, err = h.Store.ContainerAdmins(ctx, persistence.UnassignedPool(session.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"organizer"}, admins)
}

func TestSessionPartitionHoldsUnderRandomMoves(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	participants := make([]string, 8)
	for i := range participants {
		participants[i] = fmt.Sprintf("p%d", i)
	}
	h.MustParticipants(t, participants...)
	session := h.MustSession(t, testfixtures.NewSessionFixture(testfixtures.WithDefaultCapacity(3)), participants...)

	places := []*persistence.ContainerRef{pool(session.ID)}
	for i := 0; i < 3; i++ {
		sg := h.MustContainer(t, persistence.ContainerSpec{Kind: persistence.KindSessionGroup, Name: fmt.Sprintf("G%d", i+1), ParentID: session.ID})
		places = append(places, ref(persistence.KindSessionGroup, sg.ID))
	}

	rng := rand.New(rand.NewSource(42))
	logged := changeCount(t, h)
	for i := 0; i < 150; i++ {
		from := places[rng.Intn(len(places))]
		to := places[rng.Intn(len(places))]
		pid := participants[rng.Intn(len(participants))]

		_, err := h.Store.MoveParticipant(ctx, persistence.MoveRequest{ParticipantID: pid, From: from, To: to, ActorID: "organizer"})
		if err == nil {
			logged++
		} else {
			var violation *persistence.InvariantViolationError
			var capacity *persistence.CapacityConflictError
			require.True(t,
				errors.Is(err, persistence.ErrInvalidMove) || errors.As(err, &violation) || errors.As(err, &capacity),
				"unexpected error: %v", err)
		}

		layout, err := h.Store.SessionLayout(ctx, session.ID)
		require.NoError(t, err)
		seen := map[string]int{}
		for _, id := range layout.Unassigned {
			seen[id]++
		}
		for _, g := range layout.Groups {
			assert.LessOrEqual(t, len(g.MemberIDs), 3)
			for _, id := range g.MemberIDs {
				seen[id]++
			}
		}
		require.Len(t, seen, len(participants))
		for id, n := range seen {
			require.Equal(t, 1, n, "participant %s placed %d times", id, n)
		}
	}
	assert.Equal(t, logged, changeCountAll(t, h))
}

func changeCountAll(t *testing.T, h *testfixtures.SQLiteHarness) int {
	t.Helper()
	var n int
	require.NoError(t, h.Store.DB().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM change_log`).Scan(&n))
	return n
}
