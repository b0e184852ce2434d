package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yicheng-lo/prayerbot/internal/models"
	"github.com/yicheng-lo/prayerbot/internal/storage"
	"github.com/yicheng-lo/prayerbot/internal/storage/sqlite"
)

// newTestServices builds the service pair over a real sqlite store in a
// temp directory.
func newTestServices(t *testing.T, policy Policy) (storage.Store, *RosterService, *RoundService) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "prayerbot-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	roster := NewRosterService(store, policy)
	rounds := NewRoundService(store, roster)
	return store, roster, rounds
}

func identityPolicy() Policy {
	return Policy{MemberKey: KeyByIdentity, Admin: AdminSet}
}

// testGroupDoc is a group with two admins under the admin-set reading and
// one under single-admin.
func testGroupDoc() *models.Group {
	return &models.Group{
		ID: "G1",
		Members: map[string]models.MemberRecord{
			"u-alice": {DisplayName: "Alice", BoundIdentity: "u-alice", IsAdmin: true},
			"u-bob":   {DisplayName: "Bob", BoundIdentity: "u-bob", IsAdmin: true},
		},
		AdminKeys: []string{"u-alice", "u-bob"},
	}
}
