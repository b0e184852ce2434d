// Package storage provides abstractions for persistent document storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/yicheng-lo/prayerbot/internal/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// ServerTimestamp is a sentinel field value: the backend replaces it with
// its own notion of now at write time (mongo uses $currentDate).
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// DeleteField is a sentinel field value: the backend removes the field at
// the given path instead of setting it (mongo uses $unset). Used to drop a
// round entry when a member is removed mid-round.
var DeleteField = deleteField{}

type deleteField struct{}

// Store defines the document gateway the services run against.
// This abstraction allows swapping storage backends (MongoDB in production,
// SQLite for local runs and tests) without changing the service layer.
//
// UpdateGroupFields and UpdateRoundFields take dotted field paths
// (e.g. "entries.u123.text") and apply them as a partial update of the
// stored document. Values may be plain values, ServerTimestamp, or
// DeleteField.
type Store interface {
	// GetGroup retrieves a group document. Returns ErrNotFound if absent.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// PutGroup writes the full group document, creating or replacing it.
	PutGroup(ctx context.Context, group *models.Group) error

	// UpdateGroupFields applies a partial update to an existing group.
	UpdateGroupFields(ctx context.Context, groupID string, fields map[string]any) error

	// GetRound retrieves a round document. Returns ErrNotFound if absent.
	GetRound(ctx context.Context, roundID string) (*models.Round, error)

	// PutRound writes the full round document, creating or replacing it.
	PutRound(ctx context.Context, round *models.Round) error

	// UpdateRoundFields applies a partial update to an existing round.
	UpdateRoundFields(ctx context.Context, roundID string, fields map[string]any) error

	// LatestRoundBefore returns the most recent round of the group created
	// strictly before the given instant, or ErrNotFound if none exists.
	// This is the carry-forward lookup.
	LatestRoundBefore(ctx context.Context, groupID string, before time.Time) (*models.Round, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
