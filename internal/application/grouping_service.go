package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

// GroupingStore captures the persistence operations needed by the grouping service.
type GroupingStore interface {
	persistence.ParticipantRepository
	persistence.SessionRepository
	persistence.MembershipStore
	persistence.ChangeLogRepository
}

// ChangePublisher forwards committed change log entries to other systems.
type ChangePublisher interface {
	PublishChanges(ctx context.Context, entries []persistence.ChangeLogEntry) error
}

// GroupingService orchestrates validation, authorization, persistence and change publishing
// for participant memberships.
type GroupingService struct {
	store       GroupingStore
	authorizer  Authorizer
	publisher   ChangePublisher
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewGroupingService constructs a grouping service with the provided dependencies.
// A nil authorizer falls back to ContainerAdminPolicy over the store.
func NewGroupingService(store GroupingStore, authorizer Authorizer, publisher ChangePublisher, idGenerator func() string, now func() time.Time) *GroupingService {
	return NewGroupingServiceWithLogger(store, authorizer, publisher, idGenerator, now, nil)
}

// NewGroupingServiceWithLogger constructs a grouping service with a specified logger.
func NewGroupingServiceWithLogger(store GroupingStore, authorizer Authorizer, publisher ChangePublisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *GroupingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if authorizer == nil && store != nil {
		authorizer = NewContainerAdminPolicy(store)
	}
	return &GroupingService{
		store:       store,
		authorizer:  authorizer,
		publisher:   publisher,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *GroupingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "GroupingService", operation, attrs...)
}

func (s *GroupingService) ready() error {
	if s == nil {
		return fmt.Errorf("GroupingService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("grouping store not configured")
	}
	return nil
}

// authorize returns ErrUnauthorized unless the principal may manage every listed container.
// Unassigned refs without a session id carry no admins of their own and are skipped.
func (s *GroupingService) authorize(ctx context.Context, principal Principal, refs ...*persistence.ContainerRef) error {
	for _, ref := range refs {
		if ref == nil || (ref.IsUnassigned() && ref.ID == "") {
			continue
		}
		ok, err := s.authorizer.CanManage(ctx, principal, *ref)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
	}
	return nil
}

// publish hands committed entries to the publisher. The mutation already succeeded, so a
// publishing failure is logged and not returned.
func (s *GroupingService) publish(ctx context.Context, logger *slog.Logger, entries ...persistence.ChangeLogEntry) {
	if s.publisher == nil || len(entries) == 0 {
		return
	}
	if err := s.publisher.PublishChanges(ctx, entries); err != nil {
		logger.WarnContext(ctx, "failed to publish change log entries", "error", err, "entries", len(entries))
	}
}

// MoveParticipant moves one participant between containers of the same kind after checking
// that the principal manages both ends.
func (s *GroupingService) MoveParticipant(ctx context.Context, params MoveParticipantParams) (result persistence.MoveResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "MoveParticipant",
		"principal_id", params.Principal.UserID,
		"participant_id", params.ParticipantID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to move participant", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("new_version", result.NewVersion).InfoContext(ctx, "participant moved")
	}()

	vErr := &ValidationError{}
	if strings.TrimSpace(params.ParticipantID) == "" {
		vErr.add("participant_id", "participant id is required")
	}
	if params.From == nil && params.To == nil {
		vErr.add("to", "either a source or a destination is required")
	}
	if params.ExpectedVersion != nil && *params.ExpectedVersion < 1 {
		vErr.add("version", "version must be positive")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.authorize(ctx, params.Principal, params.From, params.To); err != nil {
		return
	}

	result, err = s.store.MoveParticipant(ctx, persistence.MoveRequest{
		ParticipantID:   strings.TrimSpace(params.ParticipantID),
		From:            params.From,
		To:              params.To,
		ExpectedVersion: params.ExpectedVersion,
		ActorID:         params.Principal.UserID,
	})
	if err != nil {
		err = mapStoreError(err)
		return
	}

	s.publish(ctx, logger, result.Entry)
	return
}

// AssignMany places every listed participant into one container.
func (s *GroupingService) AssignMany(ctx context.Context, params AssignParams) (result persistence.AssignResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "AssignMany",
		"principal_id", params.Principal.UserID,
		"container_kind", params.Container.Kind,
		"container_id", params.Container.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to assign participants", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("added", len(result.Added), "moved", len(result.Moved), "unchanged", len(result.Unchanged)).
			InfoContext(ctx, "participants assigned")
	}()

	vErr := validateContainerRef("container", params.Container)
	if len(params.ParticipantIDs) == 0 {
		vErr.add("participant_ids", "at least one participant is required")
	}
	for _, id := range params.ParticipantIDs {
		if strings.TrimSpace(id) == "" {
			vErr.add("participant_ids", "participant ids must not be blank")
			break
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.authorize(ctx, params.Principal, &params.Container); err != nil {
		return
	}

	result, err = s.store.AssignMany(ctx, params.Container, params.ParticipantIDs, params.Principal.UserID)
	if err != nil {
		err = mapStoreError(err)
		return
	}

	s.publish(ctx, logger, result.Entries...)
	return
}

// RemoveFromAllContainers detaches a participant from every group and subgroup and returns
// its session seats to the unassigned pools. Only administrators may do this.
func (s *GroupingService) RemoveFromAllContainers(ctx context.Context, principal Principal, participantID string) (removed int, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "RemoveFromAllContainers",
		"principal_id", principal.UserID,
		"participant_id", participantID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to remove participant from containers", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("removed", removed).InfoContext(ctx, "participant removed from containers")
	}()

	if !principal.IsAdmin && !principal.IsSuperAdmin {
		err = ErrUnauthorized
		return
	}
	if strings.TrimSpace(participantID) == "" {
		vErr := &ValidationError{}
		vErr.add("participant_id", "participant id is required")
		err = vErr
		return
	}

	var result persistence.RemoveResult
	result, err = s.store.RemoveFromAllContainers(ctx, participantID, principal.UserID)
	if err != nil {
		err = mapStoreError(err)
		return
	}

	removed = result.Removed
	s.publish(ctx, logger, result.Entries...)
	return
}

// DeleteContainer deletes a container; members are detached or returned to the pool.
func (s *GroupingService) DeleteContainer(ctx context.Context, principal Principal, ref persistence.ContainerRef) (result persistence.DeleteResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DeleteContainer",
		"principal_id", principal.UserID,
		"container_kind", ref.Kind,
		"container_id", ref.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete container", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("detached", len(result.Detached)).InfoContext(ctx, "container deleted")
	}()

	if vErr := validateContainerRef("container", ref); vErr.HasErrors() {
		err = vErr
		return
	}
	if err = s.authorize(ctx, principal, &ref); err != nil {
		return
	}

	result, err = s.store.DeleteContainer(ctx, ref, principal.UserID)
	if err != nil {
		err = mapStoreError(err)
		return
	}

	s.publish(ctx, logger, result.Entries...)
	return
}

// CreateContainer creates a group (administrators), a subgroup (admins of the parent group)
// or a session group (admins of the session).
func (s *GroupingService) CreateContainer(ctx context.Context, params CreateContainerParams) (container persistence.Container, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateContainer",
		"principal_id", params.Principal.UserID,
		"container_kind", params.Kind,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create container", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("container_id", container.ID).InfoContext(ctx, "container created")
	}()

	vErr := &ValidationError{}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		vErr.add("name", "name is required")
	}
	if !params.Kind.Valid() {
		vErr.add("kind", "kind must be group, subgroup or session_group")
	}
	if params.Kind != persistence.KindGroup && params.Kind.Valid() && strings.TrimSpace(params.ParentID) == "" {
		vErr.add("parent_id", "parent id is required")
	}
	if params.Capacity != nil {
		switch {
		case params.Kind != persistence.KindSessionGroup:
			vErr.add("capacity", "capacity applies to session groups only")
		case *params.Capacity < 1:
			vErr.add("capacity", "capacity must be positive")
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	switch params.Kind {
	case persistence.KindGroup:
		if !params.Principal.IsAdmin && !params.Principal.IsSuperAdmin {
			err = ErrUnauthorized
			return
		}
	case persistence.KindSubgroup:
		err = s.authorize(ctx, params.Principal, &persistence.ContainerRef{Kind: persistence.KindGroup, ID: params.ParentID})
	case persistence.KindSessionGroup:
		pool := persistence.UnassignedPool(params.ParentID)
		err = s.authorize(ctx, params.Principal, &pool)
	}
	if err != nil {
		return
	}

	var entry persistence.ChangeLogEntry
	container, entry, err = s.store.CreateContainer(ctx, persistence.ContainerSpec{
		Kind:     params.Kind,
		Name:     name,
		ParentID: strings.TrimSpace(params.ParentID),
		Capacity: params.Capacity,
		AdminID:  normalizeOptionalString(params.AdminID),
		ActorID:  params.Principal.UserID,
	})
	if err != nil {
		err = mapStoreError(err)
		return
	}

	s.publish(ctx, logger, entry)
	return
}

// UpdateContainer changes a container's name, admin or capacity.
func (s *GroupingService) UpdateContainer(ctx context.Context, params UpdateContainerParams) (container persistence.Container, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateContainer",
		"principal_id", params.Principal.UserID,
		"container_kind", params.Container.Kind,
		"container_id", params.Container.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update container", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("version", container.Version).InfoContext(ctx, "container updated")
	}()

	vErr := validateContainerRef("container", params.Container)
	if params.Name != nil && strings.TrimSpace(*params.Name) == "" {
		vErr.add("name", "name must not be blank")
	}
	if params.Capacity != nil && *params.Capacity < 1 {
		vErr.add("capacity", "capacity must be positive")
	}
	if params.Capacity != nil && params.ClearCapacity {
		vErr.add("capacity", "capacity cannot be set and cleared at once")
	}
	if params.Name == nil && params.Capacity == nil && params.AdminID == nil && !params.ClearCapacity {
		vErr.add("request", "no changes requested")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.authorize(ctx, params.Principal, &params.Container); err != nil {
		return
	}

	var name *string
	if params.Name != nil {
		trimmed := strings.TrimSpace(*params.Name)
		name = &trimmed
	}

	var entry persistence.ChangeLogEntry
	container, entry, err = s.store.UpdateContainer(ctx, persistence.ContainerPatch{
		Ref:             params.Container,
		Name:            name,
		Capacity:        params.Capacity,
		ClearCapacity:   params.ClearCapacity,
		AdminID:         params.AdminID,
		ExpectedVersion: params.ExpectedVersion,
		ActorID:         params.Principal.UserID,
	})
	if err != nil {
		err = mapStoreError(err)
		return
	}

	s.publish(ctx, logger, entry)
	return
}

// GetContainer returns a container with its members.
func (s *GroupingService) GetContainer(ctx context.Context, principal Principal, ref persistence.ContainerRef) (container persistence.Container, err error) {
	if err = s.ready(); err != nil {
		return
	}
	if vErr := validateContainerRef("container", ref); vErr.HasErrors() {
		return container, vErr
	}

	container, err = s.store.GetContainer(ctx, ref)
	if err != nil {
		err = mapStoreError(err)
		s.loggerWith(ctx, "GetContainer", "principal_id", principal.UserID, "container_id", ref.ID).
			WarnContext(ctx, "failed to load container", "error", err, "error_kind", ErrorKind(err))
	}
	return
}

// SessionLayout returns the unassigned pool and the session groups of a session.
func (s *GroupingService) SessionLayout(ctx context.Context, principal Principal, sessionID string) (layout persistence.SessionLayout, err error) {
	if err = s.ready(); err != nil {
		return
	}
	if strings.TrimSpace(sessionID) == "" {
		vErr := &ValidationError{}
		vErr.add("session_id", "session id is required")
		return layout, vErr
	}

	layout, err = s.store.SessionLayout(ctx, sessionID)
	if err != nil {
		err = mapStoreError(err)
		s.loggerWith(ctx, "SessionLayout", "principal_id", principal.UserID, "session_id", sessionID).
			WarnContext(ctx, "failed to load session layout", "error", err, "error_kind", ErrorKind(err))
	}
	return
}

// CreateSession creates a session owned by the principal and seeds its unassigned pool.
func (s *GroupingService) CreateSession(ctx context.Context, params CreateSessionParams) (session persistence.Session, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateSession",
		"principal_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", session.ID).InfoContext(ctx, "session created")
	}()

	if !params.Principal.IsAdmin && !params.Principal.IsSuperAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		vErr.add("title", "title is required")
	}
	if params.DefaultCapacity < 0 {
		vErr.add("default_capacity", "default capacity must not be negative")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	session = persistence.Session{
		ID:              s.idGenerator(),
		Title:           title,
		DefaultCapacity: params.DefaultCapacity,
		CreatedBy:       params.Principal.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = s.store.CreateSession(ctx, session); err != nil {
		err = mapStoreError(err)
		return
	}

	if len(params.ParticipantIDs) > 0 {
		var entries []persistence.ChangeLogEntry
		entries, err = s.store.AddSessionParticipants(ctx, session.ID, params.ParticipantIDs, params.Principal.UserID)
		if err != nil {
			err = mapStoreError(err)
			return
		}
		s.publish(ctx, logger, entries...)
	}

	session, err = s.store.GetSession(ctx, session.ID)
	if err != nil {
		err = mapStoreError(err)
	}
	return
}

// AddSessionParticipants places participants in a session's unassigned pool. Participants
// already in the session keep their seat.
func (s *GroupingService) AddSessionParticipants(ctx context.Context, principal Principal, sessionID string, participantIDs []string) (added int, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "AddSessionParticipants",
		"principal_id", principal.UserID,
		"session_id", sessionID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add session participants", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("added", added).InfoContext(ctx, "session participants added")
	}()

	vErr := &ValidationError{}
	if strings.TrimSpace(sessionID) == "" {
		vErr.add("session_id", "session id is required")
	}
	if len(participantIDs) == 0 {
		vErr.add("participant_ids", "at least one participant is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	pool := persistence.UnassignedPool(sessionID)
	if err = s.authorize(ctx, principal, &pool); err != nil {
		return
	}

	var entries []persistence.ChangeLogEntry
	entries, err = s.store.AddSessionParticipants(ctx, sessionID, participantIDs, principal.UserID)
	if err != nil {
		err = mapStoreError(err)
		return
	}

	added = len(entries)
	s.publish(ctx, logger, entries...)
	return
}

var participantRoles = map[string]struct{}{
	"member":      {},
	"admin":       {},
	"super_admin": {},
}

// RegisterParticipant adds an organization member. Only super admins may register super admins.
func (s *GroupingService) RegisterParticipant(ctx context.Context, params RegisterParticipantParams) (participant persistence.Participant, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "RegisterParticipant",
		"principal_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to register participant", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("participant_id", participant.ID).InfoContext(ctx, "participant registered")
	}()

	if !params.Principal.IsAdmin && !params.Principal.IsSuperAdmin {
		err = ErrUnauthorized
		return
	}

	role := strings.TrimSpace(params.Role)
	if role == "" {
		role = "member"
	}
	if role == "super_admin" && !params.Principal.IsSuperAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	name := strings.TrimSpace(params.DisplayName)
	if name == "" {
		vErr.add("display_name", "display name is required")
	}
	contactKey := strings.ToLower(strings.TrimSpace(params.ContactKey))
	if contactKey == "" {
		vErr.add("contact_key", "contact key is required")
	} else if !strings.Contains(contactKey, "@") {
		vErr.add("contact_key", "contact key must be an email address")
	}
	if _, ok := participantRoles[role]; !ok {
		vErr.add("role", "role must be member, admin or super_admin")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	participant = persistence.Participant{
		ID:          s.idGenerator(),
		DisplayName: name,
		ContactKey:  contactKey,
		Role:        role,
		CreatedAt:   s.now(),
	}
	if err = s.store.CreateParticipant(ctx, participant); err != nil {
		err = mapStoreError(err)
	}
	return
}

// QueryChangeLog returns change log entries matching the filter, newest first.
func (s *GroupingService) QueryChangeLog(ctx context.Context, query ChangeLogQuery) (entries []persistence.ChangeLogEntry, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "QueryChangeLog",
		"principal_id", query.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to query change log", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("entries", len(entries)).DebugContext(ctx, "change log queried")
	}()

	if !query.Principal.IsAdmin && !query.Principal.IsSuperAdmin {
		err = ErrUnauthorized
		return
	}

	filter := query.Filter
	vErr := &ValidationError{}
	if filter.Limit < 0 {
		vErr.add("limit", "limit must not be negative")
	}
	if filter.Offset < 0 {
		vErr.add("offset", "offset must not be negative")
	}
	if filter.Since != nil && filter.Until != nil && !filter.Since.Before(*filter.Until) {
		vErr.add("until", "until must be after since")
	}
	for _, action := range filter.Actions {
		if !validAction(action) {
			vErr.add("action", fmt.Sprintf("unknown action %q", action))
			break
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	entries, err = s.store.QueryChangeLog(ctx, filter)
	if err != nil {
		err = mapStoreError(err)
	}
	return
}

func validAction(action persistence.ChangeAction) bool {
	switch action {
	case persistence.ActionMoveParticipant, persistence.ActionAddParticipant, persistence.ActionRemoveParticipant,
		persistence.ActionCreateGroup, persistence.ActionUpdateGroup:
		return true
	}
	return false
}

func validateContainerRef(field string, ref persistence.ContainerRef) *ValidationError {
	vErr := &ValidationError{}
	if !ref.Kind.Valid() {
		vErr.add(field, "kind must be group, subgroup or session_group")
	}
	if strings.TrimSpace(ref.ID) == "" {
		vErr.add(field+"_id", "container id is required")
	}
	return vErr
}

func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
