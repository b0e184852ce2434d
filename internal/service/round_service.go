package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yicheng-lo/prayerbot/internal/models"
	"github.com/yicheng-lo/prayerbot/internal/storage"
)

// CarryForwardKeyword is the submit payload that copies the previous
// round's text instead of providing new content.
const CarryForwardKeyword = "同上週"

// RoundService owns the round state machine: at most one active round per
// group, entry updates with carry-forward, and round closure.
type RoundService struct {
	store  storage.Store
	roster *RosterService
}

// NewRoundService creates a new RoundService sharing the roster service's
// member-key and admin policy.
func NewRoundService(store storage.Store, roster *RosterService) *RoundService {
	return &RoundService{store: store, roster: roster}
}

// StartRound opens a new round: admin only, requires a non-empty roster and
// no active round. The current member list is snapshotted into pending
// entries. A stale current-round pointer (deleted or already-inactive
// round) is self-healed by clearing it and proceeding.
func (s *RoundService) StartRound(ctx context.Context, groupID, actorIdentity, deadlineText string) (*models.Group, *models.Round, error) {
	slog.Info("StartRound", "group_id", groupID, "actor", actorIdentity, "deadline", deadlineText)

	group, err := s.roster.loadGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	actorKey, err := s.roster.ResolveMemberKey(group, actorIdentity)
	if err != nil {
		return nil, nil, err
	}
	if !s.roster.isAdmin(group, actorIdentity) {
		return nil, nil, ErrPermissionDenied
	}
	if len(group.Members) == 0 {
		return nil, nil, ErrEmptyRoster
	}

	if group.CurrentRoundID != "" {
		current, err := s.store.GetRound(ctx, group.CurrentRoundID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.clearCurrentRound(ctx, group)
		case err != nil:
			return nil, nil, fmt.Errorf("failed to check active round: %w", err)
		case current.IsActive:
			return nil, nil, ErrAlreadyActive
		default:
			// Pointer at an already-ended round; treat as no active round.
			s.clearCurrentRound(ctx, group)
		}
	}

	now := time.Now().UTC()
	round := &models.Round{
		ID:           newRoundID(groupID, now),
		GroupID:      groupID,
		RoundDate:    now.Format("2006-01-02"),
		DeadlineText: strings.TrimSpace(deadlineText),
		IsActive:     true,
		CreatedBy:    actorKey,
		CreatedTime:  now,
		Entries:      make(map[string]models.Entry, len(group.Members)),
	}
	for key, m := range group.Members {
		round.Entries[key] = models.Entry{
			DisplayName: m.DisplayName,
			Status:      models.StatusPending,
		}
	}

	if err := s.store.PutRound(ctx, round); err != nil {
		return nil, nil, fmt.Errorf("failed to create round: %w", err)
	}
	err = s.store.UpdateGroupFields(ctx, groupID, map[string]any{
		"current_round_id": round.ID,
		"updated_at":       storage.ServerTimestamp,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set current round: %w", err)
	}

	group.CurrentRoundID = round.ID
	slog.Info("Round started", "group_id", groupID, "round_id", round.ID, "members", len(round.Entries))
	return group, round, nil
}

// SubmitEntry records the sender's text for the active round. The
// carry-forward keyword copies the most recent prior round's text; a
// failed or empty lookup degrades to an explicit same-as-last-week marker
// and never blocks the submission.
func (s *RoundService) SubmitEntry(ctx context.Context, groupID, identity, payload string) (*models.Group, *models.Round, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil, ErrEmptyText
	}
	slog.Info("SubmitEntry", "group_id", groupID, "identity", identity)

	group, err := s.roster.loadGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	key, err := s.roster.ResolveMemberKey(group, identity)
	if err != nil {
		return nil, nil, err
	}
	round, err := s.activeRound(ctx, group)
	if err != nil {
		return nil, nil, err
	}
	entry, ok := round.Entries[key]
	if !ok {
		return nil, nil, ErrNotInRound
	}

	if strings.EqualFold(payload, CarryForwardKeyword) {
		entry.Text, entry.Status = s.carryForward(ctx, group.ID, round, key)
	} else {
		entry.Text = payload
		entry.Status = models.StatusUpdated
	}
	entry.LastUpdated = time.Now().UTC()

	prefix := "entries." + key + "."
	err = s.store.UpdateRoundFields(ctx, round.ID, map[string]any{
		prefix + "text":         entry.Text,
		prefix + "status":       string(entry.Status),
		prefix + "last_updated": storage.ServerTimestamp,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update entry: %w", err)
	}

	round.Entries[key] = entry
	slog.Info("Entry submitted", "group_id", groupID, "round_id", round.ID, "key", key, "status", entry.Status)
	return group, round, nil
}

// carryForward looks up the most recent round created before the current
// one and copies its entry text for the member. Every failure mode (no
// prior round, empty or missing prior entry, query error) falls back to an
// empty same-as-last-week marker.
func (s *RoundService) carryForward(ctx context.Context, groupID string, round *models.Round, key string) (string, models.EntryStatus) {
	prior, err := s.store.LatestRoundBefore(ctx, groupID, round.CreatedTime)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Carry-forward lookup failed, degrading to empty marker",
				"group_id", groupID, "round_id", round.ID, "error", err)
		}
		return "", models.StatusSameAsLastWeek
	}
	if entry, ok := prior.Entries[key]; ok && strings.TrimSpace(entry.Text) != "" {
		return entry.Text, models.StatusUpdatedFromLastWeek
	}
	return "", models.StatusSameAsLastWeek
}

// MyEntry returns the sender's entry in the active round.
func (s *RoundService) MyEntry(ctx context.Context, groupID, identity string) (*models.Entry, error) {
	group, err := s.roster.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	key, err := s.roster.ResolveMemberKey(group, identity)
	if err != nil {
		return nil, err
	}
	round, err := s.activeRound(ctx, group)
	if err != nil {
		return nil, err
	}
	entry, ok := round.Entries[key]
	if !ok {
		return nil, ErrNotInRound
	}
	return &entry, nil
}

// QueryRound returns the group and its active round for listing. No admin
// gate: any caller may list.
func (s *RoundService) QueryRound(ctx context.Context, groupID string) (*models.Group, *models.Round, error) {
	group, err := s.roster.loadGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	round, err := s.activeRound(ctx, group)
	if err != nil {
		return nil, nil, err
	}
	return group, round, nil
}

// EndRound closes the active round: admin only. Ending when the pointed-at
// round is already inactive is an informational no-op (alreadyEnded true)
// rather than an error; the dangling pointer is cleared either way.
func (s *RoundService) EndRound(ctx context.Context, groupID, actorIdentity string) (group *models.Group, round *models.Round, alreadyEnded bool, err error) {
	slog.Info("EndRound", "group_id", groupID, "actor", actorIdentity)

	group, err = s.roster.loadGroup(ctx, groupID)
	if err != nil {
		return nil, nil, false, err
	}
	actorKey, err := s.roster.ResolveMemberKey(group, actorIdentity)
	if err != nil {
		return nil, nil, false, err
	}
	if !s.roster.isAdmin(group, actorIdentity) {
		return nil, nil, false, ErrPermissionDenied
	}
	if group.CurrentRoundID == "" {
		return nil, nil, false, ErrNoActiveRound
	}

	round, err = s.store.GetRound(ctx, group.CurrentRoundID)
	if errors.Is(err, storage.ErrNotFound) {
		s.clearCurrentRound(ctx, group)
		return nil, nil, false, ErrNoActiveRound
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to load active round: %w", err)
	}
	if !round.IsActive {
		s.clearCurrentRound(ctx, group)
		return group, round, true, nil
	}

	err = s.store.UpdateRoundFields(ctx, round.ID, map[string]any{
		"is_active":  false,
		"ended_by":   actorKey,
		"ended_time": storage.ServerTimestamp,
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to close round: %w", err)
	}
	err = s.store.UpdateGroupFields(ctx, groupID, map[string]any{
		"current_round_id": storage.DeleteField,
		"updated_at":       storage.ServerTimestamp,
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to clear current round: %w", err)
	}

	round.IsActive = false
	round.EndedBy = actorKey
	group.CurrentRoundID = ""
	slog.Info("Round ended", "group_id", groupID, "round_id", round.ID)
	return group, round, false, nil
}

// activeRound dereferences the group's current-round pointer, self-healing
// a stale or dangling reference by clearing it and reporting no active
// round.
func (s *RoundService) activeRound(ctx context.Context, group *models.Group) (*models.Round, error) {
	if group.CurrentRoundID == "" {
		return nil, ErrNoActiveRound
	}
	round, err := s.store.GetRound(ctx, group.CurrentRoundID)
	if errors.Is(err, storage.ErrNotFound) {
		s.clearCurrentRound(ctx, group)
		return nil, ErrNoActiveRound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active round: %w", err)
	}
	if !round.IsActive {
		s.clearCurrentRound(ctx, group)
		return nil, ErrNoActiveRound
	}
	return round, nil
}

func (s *RoundService) clearCurrentRound(ctx context.Context, group *models.Group) {
	err := s.store.UpdateGroupFields(ctx, group.ID, map[string]any{
		"current_round_id": storage.DeleteField,
	})
	if err != nil {
		slog.Warn("Failed to clear stale current round pointer",
			"group_id", group.ID, "round_id", group.CurrentRoundID, "error", err)
	}
	group.CurrentRoundID = ""
}

// newRoundID derives a round ID unique per group across time: rounds on
// the same calendar day must not collide.
func newRoundID(groupID string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", groupID, now.UnixNano(), uuid.NewString()[:8])
}
