package models

import (
	"strings"
	"time"
)

// MemberRecord is one roster entry inside a Group.
type MemberRecord struct {
	// DisplayName is the name shown in digests and listings.
	DisplayName string `bson:"display_name" json:"display_name"`

	// BoundIdentity is the chat-platform user ID bound to this member.
	// Always set when members are keyed by identity; optional when members
	// are keyed by display name (an unbound member cannot submit).
	BoundIdentity string `bson:"bound_identity,omitempty" json:"bound_identity,omitempty"`

	// IsAdmin marks this member as a group administrator.
	IsAdmin bool `bson:"is_admin" json:"is_admin"`
}

// Group represents one prayer community and its roster.
type Group struct {
	// ID is the external chat-platform group ID.
	ID string `bson:"_id" json:"id"`

	// Members maps member-key to record. The key is either the platform
	// user ID or the folded display name, depending on the deployment's
	// member-key policy.
	Members map[string]MemberRecord `bson:"members" json:"members"`

	// AdminKeys is the set of member-keys with admin privilege. Under the
	// single-admin policy only the first element counts.
	AdminKeys []string `bson:"admin_identities" json:"admin_identities"`

	// CurrentRoundID points at the active round, empty when none. At most
	// one round per group is active; the round service keeps this pointer
	// synchronized and clears it if it turns out to be dangling.
	CurrentRoundID string `bson:"current_round_id,omitempty" json:"current_round_id,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// MemberKey normalizes a display name into a roster key for the
// name-keyed policy. Folding keeps lookups case-insensitive.
func MemberKey(displayName string) string {
	return strings.ToLower(strings.TrimSpace(displayName))
}

// FindByDisplayName returns the key of the member whose display name
// matches case-insensitively, or "" if none does.
func (g *Group) FindByDisplayName(name string) string {
	for key, m := range g.Members {
		if strings.EqualFold(m.DisplayName, strings.TrimSpace(name)) {
			return key
		}
	}
	return ""
}

// FindByIdentity returns the key of the member bound to the given
// platform identity, or "" if none is.
func (g *Group) FindByIdentity(identity string) string {
	if _, ok := g.Members[identity]; ok {
		return identity
	}
	for key, m := range g.Members {
		if m.BoundIdentity == identity {
			return key
		}
	}
	return ""
}

// HasAdminKey reports whether key is in the admin set.
func (g *Group) HasAdminKey(key string) bool {
	for _, k := range g.AdminKeys {
		if k == key {
			return true
		}
	}
	return false
}
