// Package storage holds the match table behind a single Backend contract with two
// implementations, a remote PostgreSQL store and a local JSON file store, and the
// Router that fails over between them.
package storage

import (
	"context"
	"errors"

	"match-state-service/models"
)

var (
	ErrNotFound        = errors.New("match not found")
	ErrVersionConflict = errors.New("match was modified concurrently")
	// ErrStorageWriteFailure means every backend refused the write.
	ErrStorageWriteFailure = errors.New("storage write failed")
	// ErrBackendUnavailable is recovered by failover and never leaves the Router.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)

// Backend is the contract both stores implement identically.
//
// Save is an idempotent upsert keyed by id and stores the record as given.
// Update applies a patch, bumping updatedAt and version.
// Swap replaces the record only while its stored version equals expectedVersion;
// it never creates a record.
type Backend interface {
	Name() string
	Ping(ctx context.Context) error

	Save(ctx context.Context, rec models.MatchRecord) (models.MatchRecord, error)
	Get(ctx context.Context, id string) (models.MatchRecord, error)
	Update(ctx context.Context, id string, patch models.MatchPatch) (models.MatchRecord, error)
	Swap(ctx context.Context, rec models.MatchRecord, expectedVersion int64) (models.MatchRecord, error)
	Delete(ctx context.Context, id string) (bool, error)

	// ListPublicOpen returns public waiting/playing matches, newest first.
	ListPublicOpen(ctx context.Context, limit int) ([]models.MatchRecord, error)
	// DeleteOlderThan removes records created strictly before cutoff (unix ms).
	DeleteOlderThan(ctx context.Context, cutoff int64) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (models.Stats, error)

	// Lobby projection persistence.
	ReplaceLobby(ctx context.Context, entries []models.LobbyEntry) error
	Lobby(ctx context.Context) ([]models.LobbyEntry, error)
}

// isDomainErr separates answers from failures: a store that says "not found" or
// "version moved" is healthy.
func isDomainErr(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict)
}
