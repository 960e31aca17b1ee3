package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"match-state-service/models"
)

func newRecord(id string, createdAt int64, public bool, status models.MatchStatus) models.MatchRecord {
	return models.MatchRecord{
		ID:          id,
		PlayerX:     "addr-" + id,
		CurrentTurn: models.X,
		Status:      status,
		IsPublic:    public,
		CreatorName: "creator-" + id,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Version:     1,
	}
}

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalStoreSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	rec := newRecord("ABC123", 1000, true, models.StatusWaiting)
	rec.Board[4] = models.X
	w := models.O
	rec.Winner = &w

	_, err := s.Save(ctx, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))

	_, err = s.Get(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := NewLocalStore(dir)
	require.NoError(t, err)
	_, err = s1.Save(ctx, newRecord("PERSIST", 1, false, models.StatusWaiting))
	require.NoError(t, err)

	s2, err := NewLocalStore(dir)
	require.NoError(t, err)
	got, err := s2.Get(ctx, "PERSIST")
	require.NoError(t, err)
	assert.Equal(t, "addr-PERSIST", got.PlayerX)
}

func TestLocalStoreRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, matchesFile), []byte("{not json"), 0o644))

	_, err := NewLocalStore(dir)
	assert.Error(t, err)
}

func TestLocalStoreUpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	_, err := s.Save(ctx, newRecord("UPD1", 1000, false, models.StatusWaiting))
	require.NoError(t, err)

	public := true
	got, err := s.Update(ctx, "UPD1", models.MatchPatch{IsPublic: &public})
	require.NoError(t, err)
	assert.True(t, got.IsPublic)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, int64(1000), got.CreatedAt)
	assert.Greater(t, got.UpdatedAt, int64(1000))

	_, err = s.Update(ctx, "MISSING", models.MatchPatch{IsPublic: &public})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreSwap(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	rec := newRecord("SWAP1", 1000, false, models.StatusWaiting)
	_, err := s.Save(ctx, rec)
	require.NoError(t, err)

	next := rec.Clone()
	next.Status = models.StatusPlaying
	next.Version = 2
	_, err = s.Swap(ctx, next, 1)
	require.NoError(t, err)

	stale := rec.Clone()
	stale.Status = models.StatusAbandoned
	stale.Version = 2
	_, err = s.Swap(ctx, stale, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := s.Get(ctx, "SWAP1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, got.Status)

	// Swap never creates.
	ghost := newRecord("GHOST", 1, false, models.StatusWaiting)
	_, err = s.Swap(ctx, ghost, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "GHOST")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	for _, rec := range []models.MatchRecord{
		newRecord("OLD1", 100, false, models.StatusFinished),
		newRecord("EDGE", 500, false, models.StatusWaiting),
		newRecord("NEW1", 900, true, models.StatusPlaying),
	} {
		_, err := s.Save(ctx, rec)
		require.NoError(t, err)
	}

	n, err := s.DeleteOlderThan(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteOlderThan(ctx, 500)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Get(ctx, "EDGE")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "OLD1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreListPublicOpenNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	for _, rec := range []models.MatchRecord{
		newRecord("PUB1", 100, true, models.StatusWaiting),
		newRecord("PUB2", 300, true, models.StatusPlaying),
		newRecord("PRIV", 400, false, models.StatusWaiting),
		newRecord("DONE", 500, true, models.StatusFinished),
		newRecord("PUB3", 200, true, models.StatusWaiting),
	} {
		_, err := s.Save(ctx, rec)
		require.NoError(t, err)
	}

	recs, err := s.ListPublicOpen(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "PUB2", recs[0].ID)
	assert.Equal(t, "PUB3", recs[1].ID)
}

func TestLocalStoreStatsAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	for _, rec := range []models.MatchRecord{
		newRecord("S1", 1, true, models.StatusWaiting),
		newRecord("S2", 2, false, models.StatusFinished),
		newRecord("S3", 3, true, models.StatusAbandoned),
	} {
		_, err := s.Save(ctx, rec)
		require.NoError(t, err)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Public)
	assert.Equal(t, 1, stats.ByStatus[models.StatusWaiting])
	assert.Equal(t, 0, stats.ByStatus[models.StatusPlaying])

	n, err := s.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestLocalStoreConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "CONC" + string(rune('A'+i))
			_, err := s.Save(ctx, newRecord(id, int64(i), false, models.StatusWaiting))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Total)
}
