package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yicheng-lo/prayerbot/internal/models"
	"github.com/yicheng-lo/prayerbot/internal/storage"
)

func TestStartRoundSnapshotsMembers(t *testing.T) {
	store, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	mustJoin(t, roster, "G1", "u-bob", "Bob")

	group, round, err := rounds.StartRound(ctx, "G1", "u-alice", "Friday")
	if err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if group.CurrentRoundID != round.ID {
		t.Error("expected current round pointer set")
	}
	if round.DeadlineText != "Friday" {
		t.Errorf("deadline = %q, want Friday", round.DeadlineText)
	}
	if len(round.Entries) != 2 {
		t.Fatalf("expected entries for both members, got %d", len(round.Entries))
	}
	for key, entry := range round.Entries {
		if entry.Status != models.StatusPending || entry.Text != "" {
			t.Errorf("entry %s should start pending and empty: %+v", key, entry)
		}
	}

	digest := RenderDigest(group, round)
	if digest != "Alice：(待更新)\nBob：(待更新)" {
		t.Errorf("starting digest wrong:\n%s", digest)
	}

	// A member joining later gets no entry in the running round.
	mustJoin(t, roster, "G1", "u-carol", "Carol")
	stored, err := store.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("GetRound failed: %v", err)
	}
	if _, ok := stored.Entries["u-carol"]; ok {
		t.Error("membership changes must not retroactively add entries")
	}
}

func TestStartRoundRequiresAdmin(t *testing.T) {
	store, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	mustJoin(t, roster, "G1", "u-bob", "Bob")

	_, _, err := rounds.StartRound(ctx, "G1", "u-bob", "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// No writes happened: no round pointer, no round documents.
	group, _ := store.GetGroup(ctx, "G1")
	if group.CurrentRoundID != "" {
		t.Error("rejected start must not write a round pointer")
	}
	if _, err := store.LatestRoundBefore(ctx, "G1", time.Now().Add(time.Hour)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rejected start must not create a round, got %v", err)
	}
}

func TestStartRoundWhileActiveFails(t *testing.T) {
	store, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("first StartRound failed: %v", err)
	}

	group, _ := store.GetGroup(ctx, "G1")
	before := group.CurrentRoundID

	_, _, err := rounds.StartRound(ctx, "G1", "u-alice", "")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	group, _ = store.GetGroup(ctx, "G1")
	if group.CurrentRoundID != before {
		t.Error("failed start must not change the round pointer")
	}
}

func TestStartRoundSelfHealsDanglingPointer(t *testing.T) {
	store, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	err := store.UpdateGroupFields(ctx, "G1", map[string]any{"current_round_id": "gone"})
	if err != nil {
		t.Fatalf("UpdateGroupFields failed: %v", err)
	}

	// The pointer references a round that does not exist; start must treat
	// this as no active round.
	_, round, err := rounds.StartRound(ctx, "G1", "u-alice", "")
	if err != nil {
		t.Fatalf("StartRound should self-heal a dangling pointer: %v", err)
	}
	group, _ := store.GetGroup(ctx, "G1")
	if group.CurrentRoundID != round.ID {
		t.Errorf("pointer should land on the fresh round, got %q", group.CurrentRoundID)
	}
}

func TestStartRoundEmptyRoster(t *testing.T) {
	store, _, rounds := newTestServices(t, Policy{MemberKey: KeyByDisplayName, Admin: AdminSet})
	ctx := context.Background()

	group := &models.Group{
		ID:        "G1",
		Members:   map[string]models.MemberRecord{},
		AdminKeys: []string{"boss"},
	}
	if err := store.PutGroup(ctx, group); err != nil {
		t.Fatalf("PutGroup failed: %v", err)
	}

	_, _, err := rounds.StartRound(ctx, "G1", "u-boss", "")
	// With nobody in the roster the actor cannot even resolve.
	if !errors.Is(err, ErrNotBound) {
		t.Fatalf("expected ErrNotBound on empty roster, got %v", err)
	}
}

func TestSubmitEntry(t *testing.T) {
	_, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	mustJoin(t, roster, "G1", "u-bob", "Bob")
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	_, round, err := rounds.SubmitEntry(ctx, "G1", "u-bob", "for exams")
	if err != nil {
		t.Fatalf("SubmitEntry failed: %v", err)
	}
	entry := round.Entries["u-bob"]
	if entry.Text != "for exams" || entry.Status != models.StatusUpdated {
		t.Errorf("entry wrong after submit: %+v", entry)
	}
	if entry.LastUpdated.IsZero() {
		t.Error("expected last_updated stamped")
	}

	// Re-submission overwrites.
	_, round, err = rounds.SubmitEntry(ctx, "G1", "u-bob", "for health")
	if err != nil {
		t.Fatalf("second SubmitEntry failed: %v", err)
	}
	if round.Entries["u-bob"].Text != "for health" {
		t.Errorf("re-submission should overwrite, got %+v", round.Entries["u-bob"])
	}
}

func TestSubmitEntryErrors(t *testing.T) {
	_, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")

	if _, _, err := rounds.SubmitEntry(ctx, "G1", "u-alice", "   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	if _, _, err := rounds.SubmitEntry(ctx, "G1", "u-alice", "hi"); !errors.Is(err, ErrNoActiveRound) {
		t.Errorf("expected ErrNoActiveRound, got %v", err)
	}

	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if _, _, err := rounds.SubmitEntry(ctx, "G1", "u-stranger", "hi"); !errors.Is(err, ErrNotAMember) {
		t.Errorf("expected ErrNotAMember, got %v", err)
	}

	// A member added after the snapshot has no entry to update.
	mustJoin(t, roster, "G1", "u-new", "Newcomer")
	if _, _, err := rounds.SubmitEntry(ctx, "G1", "u-new", "hi"); !errors.Is(err, ErrNotInRound) {
		t.Errorf("expected ErrNotInRound, got %v", err)
	}
}

func TestCarryForwardFirstRound(t *testing.T) {
	_, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	_, round, err := rounds.SubmitEntry(ctx, "G1", "u-alice", CarryForwardKeyword)
	if err != nil {
		t.Fatalf("SubmitEntry failed: %v", err)
	}
	entry := round.Entries["u-alice"]
	if entry.Status != models.StatusSameAsLastWeek || entry.Text != "" {
		t.Errorf("first-round carry-forward must mark same-as-last-week with empty text: %+v", entry)
	}
}

func TestCarryForwardCopiesMostRecentPriorRound(t *testing.T) {
	_, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	mustJoin(t, roster, "G1", "u-bob", "Bob")

	// Round one: Bob submits, round closes.
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if _, _, err := rounds.SubmitEntry(ctx, "G1", "u-bob", "for exams"); err != nil {
		t.Fatalf("SubmitEntry failed: %v", err)
	}
	if _, _, _, err := rounds.EndRound(ctx, "G1", "u-alice"); err != nil {
		t.Fatalf("EndRound failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	// Round two: Bob carries forward.
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("second StartRound failed: %v", err)
	}
	_, round, err := rounds.SubmitEntry(ctx, "G1", "u-bob", "同上週")
	if err != nil {
		t.Fatalf("carry-forward submit failed: %v", err)
	}
	entry := round.Entries["u-bob"]
	if entry.Status != models.StatusUpdatedFromLastWeek || entry.Text != "for exams" {
		t.Errorf("expected prior text copied, got %+v", entry)
	}

	// Alice never submitted in round one; her carry-forward degrades to
	// the empty marker.
	_, round, err = rounds.SubmitEntry(ctx, "G1", "u-alice", CarryForwardKeyword)
	if err != nil {
		t.Fatalf("carry-forward submit failed: %v", err)
	}
	entry = round.Entries["u-alice"]
	if entry.Status != models.StatusSameAsLastWeek || entry.Text != "" {
		t.Errorf("empty prior entry must degrade to same-as-last-week: %+v", entry)
	}
}

// failingPriorLookupStore wraps a real store but fails the prior-round
// query, as a timed-out or disconnected backend would.
type failingPriorLookupStore struct {
	storage.Store
}

func (s *failingPriorLookupStore) LatestRoundBefore(ctx context.Context, groupID string, before time.Time) (*models.Round, error) {
	return nil, errors.New("connection reset")
}

func TestCarryForwardDegradesOnLookupFailure(t *testing.T) {
	base, _, _ := newTestServices(t, identityPolicy())
	store := &failingPriorLookupStore{Store: base}
	roster := NewRosterService(store, identityPolicy())
	rounds := NewRoundService(store, roster)
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	_, round, err := rounds.SubmitEntry(ctx, "G1", "u-alice", CarryForwardKeyword)
	if err != nil {
		t.Fatalf("submit must succeed despite the failed lookup: %v", err)
	}
	entry := round.Entries["u-alice"]
	if entry.Status != models.StatusSameAsLastWeek || entry.Text != "" {
		t.Errorf("expected empty same-as-last-week fallback, got %+v", entry)
	}
}

func TestEndRound(t *testing.T) {
	store, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	mustJoin(t, roster, "G1", "u-bob", "Bob")
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", "Friday"); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if _, _, err := rounds.SubmitEntry(ctx, "G1", "u-bob", "for exams"); err != nil {
		t.Fatalf("SubmitEntry failed: %v", err)
	}

	group, round, alreadyEnded, err := rounds.EndRound(ctx, "G1", "u-alice")
	if err != nil {
		t.Fatalf("EndRound failed: %v", err)
	}
	if alreadyEnded {
		t.Error("first end must not report already-ended")
	}

	digest := RenderDigest(group, round)
	if !strings.Contains(digest, "Alice：(待更新)") || !strings.Contains(digest, "Bob：for exams") {
		t.Errorf("closing digest wrong:\n%s", digest)
	}

	stored, _ := store.GetGroup(ctx, "G1")
	if stored.CurrentRoundID != "" {
		t.Error("expected current round pointer cleared")
	}
	closed, _ := store.GetRound(ctx, round.ID)
	if closed.IsActive {
		t.Error("expected round inactive")
	}
	if closed.EndedBy != "u-alice" {
		t.Errorf("ended_by = %q, want u-alice", closed.EndedBy)
	}
	if closed.EndedTime.IsZero() {
		t.Error("expected ended_time stamped")
	}
}

func TestEndRoundWithoutActiveRound(t *testing.T) {
	store, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")

	_, _, _, err := rounds.EndRound(ctx, "G1", "u-alice")
	if !errors.Is(err, ErrNoActiveRound) {
		t.Fatalf("expected ErrNoActiveRound, got %v", err)
	}

	// An already-inactive round behind the pointer is informational, not
	// an error, and clears the pointer.
	round := &models.Round{
		ID:          "G1_stale",
		GroupID:     "G1",
		IsActive:    false,
		CreatedTime: time.Now().UTC(),
		Entries:     map[string]models.Entry{},
	}
	if err := store.PutRound(ctx, round); err != nil {
		t.Fatalf("PutRound failed: %v", err)
	}
	if err := store.UpdateGroupFields(ctx, "G1", map[string]any{"current_round_id": "G1_stale"}); err != nil {
		t.Fatalf("UpdateGroupFields failed: %v", err)
	}

	_, _, alreadyEnded, err := rounds.EndRound(ctx, "G1", "u-alice")
	if err != nil {
		t.Fatalf("idempotent end failed: %v", err)
	}
	if !alreadyEnded {
		t.Error("expected already-ended informational result")
	}
	group, _ := store.GetGroup(ctx, "G1")
	if group.CurrentRoundID != "" {
		t.Error("expected stale pointer cleared")
	}
}

func TestEndRoundRequiresAdmin(t *testing.T) {
	_, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")
	mustJoin(t, roster, "G1", "u-bob", "Bob")
	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	if _, _, _, err := rounds.EndRound(ctx, "G1", "u-bob"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestQueryRoundAndMyEntry(t *testing.T) {
	_, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")

	if _, _, err := rounds.QueryRound(ctx, "G1"); !errors.Is(err, ErrNoActiveRound) {
		t.Errorf("expected ErrNoActiveRound, got %v", err)
	}

	if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if _, _, err := rounds.SubmitEntry(ctx, "G1", "u-alice", "for peace"); err != nil {
		t.Fatalf("SubmitEntry failed: %v", err)
	}

	_, round, err := rounds.QueryRound(ctx, "G1")
	if err != nil {
		t.Fatalf("QueryRound failed: %v", err)
	}
	if !round.IsActive {
		t.Error("expected active round")
	}

	entry, err := rounds.MyEntry(ctx, "G1", "u-alice")
	if err != nil {
		t.Fatalf("MyEntry failed: %v", err)
	}
	if entry.Text != "for peace" {
		t.Errorf("MyEntry text = %q", entry.Text)
	}
}

func TestOnlyOneActiveRoundInvariant(t *testing.T) {
	store, roster, rounds := newTestServices(t, identityPolicy())
	ctx := context.Background()

	mustJoin(t, roster, "G1", "u-alice", "Alice")

	for i := 0; i < 3; i++ {
		if _, _, err := rounds.StartRound(ctx, "G1", "u-alice", ""); err != nil {
			t.Fatalf("StartRound %d failed: %v", i, err)
		}
		if _, _, _, err := rounds.EndRound(ctx, "G1", "u-alice"); err != nil {
			t.Fatalf("EndRound %d failed: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, round, err := rounds.StartRound(ctx, "G1", "u-alice", "")
	if err != nil {
		t.Fatalf("final StartRound failed: %v", err)
	}

	// Walk every stored round backward in time: exactly the newest one is
	// active.
	active := 0
	cursor := time.Now().UTC().Add(time.Hour)
	for {
		prior, err := store.LatestRoundBefore(ctx, "G1", cursor)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			t.Fatalf("LatestRoundBefore failed: %v", err)
		}
		if prior.IsActive {
			active++
			if prior.ID != round.ID {
				t.Errorf("active round is %s, expected %s", prior.ID, round.ID)
			}
		}
		cursor = prior.CreatedTime
	}
	if active != 1 {
		t.Errorf("expected exactly one active round, found %d", active)
	}
}
