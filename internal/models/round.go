package models

import "time"

// EntryStatus tracks how a member's entry reached its current text.
type EntryStatus string

const (
	// StatusPending is the initial state set at round creation.
	StatusPending EntryStatus = "pending"

	// StatusUpdated means the member submitted fresh text this round.
	StatusUpdated EntryStatus = "updated"

	// StatusSameAsLastWeek means the member asked to carry forward but no
	// prior text could be retrieved; the entry text stays empty. This is a
	// valid submission, not an error.
	StatusSameAsLastWeek EntryStatus = "same_as_last_week"

	// StatusUpdatedFromLastWeek means the previous round's text was copied
	// into this entry.
	StatusUpdatedFromLastWeek EntryStatus = "updated_from_last_week"
)

// Entry is one member's submission within a round.
type Entry struct {
	// DisplayName is a denormalized copy of the member's name at snapshot
	// time, kept in sync by roster renames.
	DisplayName string `bson:"display_name" json:"display_name"`

	Text   string      `bson:"text" json:"text"`
	Status EntryStatus `bson:"status" json:"status"`

	LastUpdated time.Time `bson:"last_updated,omitempty" json:"last_updated,omitempty"`
}

// Round represents one prayer cycle for a group.
type Round struct {
	// ID is derived from the group ID plus the creation instant, unique per
	// group across time (multiple rounds on the same day are fine).
	ID string `bson:"_id" json:"id"`

	GroupID      string `bson:"group_id" json:"group_id"`
	RoundDate    string `bson:"round_date" json:"round_date"`
	DeadlineText string `bson:"deadline_text,omitempty" json:"deadline_text,omitempty"`

	IsActive bool `bson:"is_active" json:"is_active"`

	CreatedBy   string    `bson:"created_by" json:"created_by"`
	CreatedTime time.Time `bson:"created_time" json:"created_time"`
	EndedBy     string    `bson:"ended_by,omitempty" json:"ended_by,omitempty"`
	EndedTime   time.Time `bson:"ended_time,omitempty" json:"ended_time,omitempty"`

	// Entries maps member-key to entry, snapshotted from Group.Members at
	// creation. Removal commands may delete keys; nothing adds keys after
	// creation.
	Entries map[string]Entry `bson:"entries" json:"entries"`
}
