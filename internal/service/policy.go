package service

// MemberKeyPolicy selects how roster entries are keyed.
type MemberKeyPolicy string

const (
	// KeyByIdentity keys members by their platform user ID; names are
	// display-only.
	KeyByIdentity MemberKeyPolicy = "identity"

	// KeyByDisplayName keys members by their folded display name; platform
	// identities are bound to names and a member without a binding cannot
	// submit.
	KeyByDisplayName MemberKeyPolicy = "name"
)

// AdminPolicy selects how admin privilege is held.
type AdminPolicy string

const (
	// SingleAdmin honors only the first key in the group's admin list.
	SingleAdmin AdminPolicy = "single"

	// AdminSet honors every key in the admin list plus per-member admin
	// flags.
	AdminSet AdminPolicy = "set"
)

// Policy carries the two deployment axes selected at configuration time.
// The historical deployments diverged into three near-identical scripts;
// these two knobs replace all of them.
type Policy struct {
	MemberKey MemberKeyPolicy
	Admin     AdminPolicy
}
