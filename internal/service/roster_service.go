package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yicheng-lo/prayerbot/internal/models"
	"github.com/yicheng-lo/prayerbot/internal/storage"
)

// RosterService owns per-group membership lifecycle.
type RosterService struct {
	store  storage.Store
	policy Policy
}

// NewRosterService creates a new RosterService with the given storage
// backend and deployment policy.
func NewRosterService(store storage.Store, policy Policy) *RosterService {
	return &RosterService{store: store, policy: policy}
}

// JoinResult tells the caller which success variant a join produced, so the
// confirmation message can match. Joining twice is not an error.
type JoinResult struct {
	GroupCreated bool
	MemberAdded  bool
	Renamed      bool
	DisplayName  string
}

// JoinOrUpdate registers the sender in the roster, creating the group
// document with the sender as sole member and sole admin if it does not
// exist yet. An existing member joining again is an idempotent success; a
// changed display name is updated in place.
func (s *RosterService) JoinOrUpdate(ctx context.Context, groupID, identity, displayName string) (*JoinResult, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrEmptyText
	}
	if err := validateDisplayName(displayName); err != nil {
		return nil, err
	}
	slog.Info("JoinOrUpdate", "group_id", groupID, "identity", identity, "display_name", displayName)

	key := s.memberKey(identity, displayName)
	record := models.MemberRecord{DisplayName: displayName, BoundIdentity: identity}

	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		group = &models.Group{
			ID:        groupID,
			Members:   map[string]models.MemberRecord{key: {DisplayName: displayName, BoundIdentity: identity, IsAdmin: true}},
			AdminKeys: []string{key},
		}
		if err := s.store.PutGroup(ctx, group); err != nil {
			return nil, fmt.Errorf("failed to create group: %w", err)
		}
		slog.Info("Group created", "group_id", groupID, "admin_key", key)
		return &JoinResult{GroupCreated: true, MemberAdded: true, DisplayName: displayName}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}

	existing, ok := group.Members[key]
	if ok {
		// Re-joining keeps privileges and, under the name-keyed policy,
		// binds the sender's identity to the existing name.
		record.IsAdmin = existing.IsAdmin
	}

	fields := map[string]any{
		"members." + key: record,
		"updated_at":     storage.ServerTimestamp,
	}
	if err := s.store.UpdateGroupFields(ctx, groupID, fields); err != nil {
		return nil, fmt.Errorf("failed to update roster: %w", err)
	}

	res := &JoinResult{DisplayName: displayName}
	switch {
	case !ok:
		res.MemberAdded = true
	case existing.DisplayName != displayName:
		res.Renamed = true
		s.propagateRename(ctx, group, key, displayName)
	}
	return res, nil
}

// SetRoster bulk-adds members by display name. The group is created with
// the actor as sole admin if absent; otherwise the actor must be an admin.
// Existing members are never dropped, only missing names are added.
func (s *RosterService) SetRoster(ctx context.Context, groupID, actorIdentity string, names []string) (*models.Group, error) {
	slog.Info("SetRoster", "group_id", groupID, "actor", actorIdentity, "names", len(names))

	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if err := validateDisplayName(n); err != nil {
			return nil, err
		}
		cleaned = append(cleaned, n)
	}
	if len(cleaned) == 0 {
		return nil, ErrEmptyText
	}

	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		adminKey := s.memberKey(actorIdentity, cleaned[0])
		group = &models.Group{
			ID:        groupID,
			Members:   map[string]models.MemberRecord{},
			AdminKeys: []string{adminKey},
		}
		for i, name := range cleaned {
			rec := models.MemberRecord{DisplayName: name}
			if i == 0 {
				// The first listed name is the roster creator.
				rec.BoundIdentity = actorIdentity
				rec.IsAdmin = true
			}
			group.Members[models.MemberKey(name)] = rec
		}
		if err := s.store.PutGroup(ctx, group); err != nil {
			return nil, fmt.Errorf("failed to create group: %w", err)
		}
		return group, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}

	if !s.isAdmin(group, actorIdentity) {
		return nil, ErrPermissionDenied
	}

	fields := map[string]any{"updated_at": storage.ServerTimestamp}
	for _, name := range cleaned {
		// Match against display names, not keys: a renamed member keeps the
		// original folded-name key, and listing the new name must not add a
		// duplicate.
		if group.FindByDisplayName(name) != "" {
			continue
		}
		key := models.MemberKey(name)
		rec := models.MemberRecord{DisplayName: name}
		group.Members[key] = rec
		fields["members."+key] = rec
	}
	if len(fields) > 1 {
		if err := s.store.UpdateGroupFields(ctx, groupID, fields); err != nil {
			return nil, fmt.Errorf("failed to update roster: %w", err)
		}
	}
	return group, nil
}

// RenameSelf changes the sender's own display name.
func (s *RosterService) RenameSelf(ctx context.Context, groupID, identity, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrEmptyText
	}
	slog.Info("RenameSelf", "group_id", groupID, "identity", identity, "new_name", newName)

	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	key, err := s.ResolveMemberKey(group, identity)
	if err != nil {
		return err
	}
	return s.rename(ctx, group, key, newName)
}

// RenameMember changes another member's display name; admin only. The
// target is resolved by case-insensitive display-name match.
func (s *RosterService) RenameMember(ctx context.Context, groupID, actorIdentity, oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrEmptyText
	}
	slog.Info("RenameMember", "group_id", groupID, "actor", actorIdentity, "old_name", oldName, "new_name", newName)

	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !s.isAdmin(group, actorIdentity) {
		return ErrPermissionDenied
	}
	key := group.FindByDisplayName(oldName)
	if key == "" {
		return ErrMemberNotFound
	}
	return s.rename(ctx, group, key, newName)
}

// RemoveMember drops a member from the roster; admin only. If a round is
// active the member's entry is deleted from it as well.
func (s *RosterService) RemoveMember(ctx context.Context, groupID, actorIdentity, name string) error {
	slog.Info("RemoveMember", "group_id", groupID, "actor", actorIdentity, "name", name)

	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !s.isAdmin(group, actorIdentity) {
		return ErrPermissionDenied
	}
	key := group.FindByDisplayName(name)
	if key == "" {
		return ErrMemberNotFound
	}

	fields := map[string]any{
		"members." + key: storage.DeleteField,
		"updated_at":     storage.ServerTimestamp,
	}
	if group.HasAdminKey(key) {
		admins := make([]string, 0, len(group.AdminKeys))
		for _, k := range group.AdminKeys {
			if k != key {
				admins = append(admins, k)
			}
		}
		fields["admin_identities"] = admins
	}
	if err := s.store.UpdateGroupFields(ctx, groupID, fields); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	if group.CurrentRoundID != "" {
		err := s.store.UpdateRoundFields(ctx, group.CurrentRoundID, map[string]any{
			"entries." + key: storage.DeleteField,
		})
		if err != nil {
			// The roster change stands; the stale entry is only noise.
			slog.Warn("Failed to delete round entry for removed member",
				"group_id", groupID, "round_id", group.CurrentRoundID, "key", key, "error", err)
		}
	}
	return nil
}

// ListMembers returns the roster ordered by display name.
func (s *RosterService) ListMembers(ctx context.Context, groupID string) ([]models.MemberRecord, error) {
	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	keys := sortedMemberKeys(group)
	members := make([]models.MemberRecord, 0, len(keys))
	for _, key := range keys {
		members = append(members, group.Members[key])
	}
	return members, nil
}

// IsAdmin reports whether the sender holds admin privilege. Any lookup
// failure degrades to false so permission checks fail closed.
func (s *RosterService) IsAdmin(ctx context.Context, groupID, identity string) bool {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return false
	}
	return s.isAdmin(group, identity)
}

// ResolveMemberKey maps a platform identity to the sender's roster key
// under the configured member-key policy.
func (s *RosterService) ResolveMemberKey(group *models.Group, identity string) (string, error) {
	if s.policy.MemberKey == KeyByIdentity {
		if _, ok := group.Members[identity]; !ok {
			return "", ErrNotAMember
		}
		return identity, nil
	}
	key := group.FindByIdentity(identity)
	if key == "" {
		return "", ErrNotBound
	}
	return key, nil
}

func (s *RosterService) memberKey(identity, displayName string) string {
	if s.policy.MemberKey == KeyByIdentity {
		return identity
	}
	return models.MemberKey(displayName)
}

func (s *RosterService) isAdmin(group *models.Group, identity string) bool {
	key, err := s.ResolveMemberKey(group, identity)
	if err != nil {
		return false
	}
	if s.policy.Admin == SingleAdmin {
		return len(group.AdminKeys) > 0 && group.AdminKeys[0] == key
	}
	if group.HasAdminKey(key) {
		return true
	}
	return group.Members[key].IsAdmin
}

func (s *RosterService) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	return group, nil
}

// validateDisplayName rejects names that cannot serve as roster keys:
// a "." would be read as a path separator by the dotted-path updates both
// backends apply, and mongo reserves "$" in field names.
func validateDisplayName(name string) error {
	if strings.ContainsAny(name, ".$") {
		return ErrInvalidName
	}
	return nil
}

// rename validates the name and the conflict rule, writes the new display
// name and propagates it into the active round's denormalized entry copy.
func (s *RosterService) rename(ctx context.Context, group *models.Group, key, newName string) error {
	if err := validateDisplayName(newName); err != nil {
		return err
	}
	for otherKey, m := range group.Members {
		if otherKey != key && strings.EqualFold(m.DisplayName, newName) {
			return ErrNameConflict
		}
	}

	err := s.store.UpdateGroupFields(ctx, group.ID, map[string]any{
		"members." + key + ".display_name": newName,
		"updated_at":                       storage.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to rename member: %w", err)
	}

	s.propagateRename(ctx, group, key, newName)
	return nil
}

// propagateRename keeps the active round's entry display copy in sync.
// Failure here is logged, not surfaced: the primary rename already stands.
func (s *RosterService) propagateRename(ctx context.Context, group *models.Group, key, newName string) {
	if group.CurrentRoundID == "" {
		return
	}
	round, err := s.store.GetRound(ctx, group.CurrentRoundID)
	if err != nil {
		slog.Warn("Failed to load active round for rename propagation",
			"group_id", group.ID, "round_id", group.CurrentRoundID, "error", err)
		return
	}
	if _, ok := round.Entries[key]; !ok {
		return
	}
	err = s.store.UpdateRoundFields(ctx, round.ID, map[string]any{
		"entries." + key + ".display_name": newName,
	})
	if err != nil {
		slog.Warn("Failed to propagate rename into active round",
			"group_id", group.ID, "round_id", round.ID, "key", key, "error", err)
	}
}
