// Package store persists the conversation log. The log is append-only:
// the pipeline writes each message exactly once, keyed by its content
// fingerprint, and never mutates or deletes records.
package store

import (
	"context"
	"errors"

	"github.com/nhle/mailbot/internal/model"
)

// ErrDuplicateFingerprint is returned by Add when a record with the same
// fingerprint already exists. It is the store-level half of the
// at-most-once guarantee.
var ErrDuplicateFingerprint = errors.New("store: duplicate fingerprint")

// DirectionCounts holds per-direction message totals for the stats
// surface.
type DirectionCounts struct {
	Incoming int `db:"incoming"`
	Outgoing int `db:"outgoing"`
}

// Store defines the persistence interface for conversation messages.
type Store interface {
	// Add appends a message to the conversation log. A duplicate
	// fingerprint yields ErrDuplicateFingerprint.
	Add(ctx context.Context, msg model.ConversationMessage) error

	// FindByFingerprint returns the message with the given fingerprint,
	// or (nil, nil) when none exists.
	FindByFingerprint(ctx context.Context, fp string) (*model.ConversationMessage, error)

	// FindByThread returns up to limit messages belonging to a thread:
	// the message with the given ID plus every message whose ThreadID
	// references it. Ordered by creation time, ascending when asc is
	// true, most-recent-first otherwise. limit <= 0 means no limit.
	FindByThread(ctx context.Context, threadID string, asc bool, limit int) ([]model.ConversationMessage, error)

	// RecentConversation returns the most recent messages exchanged with
	// an address (sent by it or addressed to it), newest first.
	RecentConversation(ctx context.Context, addr string, limit int) ([]model.ConversationMessage, error)

	// CountByDirection returns total stored message counts per direction.
	CountByDirection(ctx context.Context) (DirectionCounts, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}
