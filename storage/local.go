package storage

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"match-state-service/models"
	"match-state-service/utils"
)

const (
	matchesFile = "matches.json"
	lobbyFile   = "lobby.json"
)

// LocalStore keeps the whole match table in one JSON file (id → record) and the
// lobby projection in a second file. Every call reads, modifies and rewrites the
// whole file.
//
// Single-writer assumption: mu serializes callers inside this process only. Two
// processes sharing one data dir will lose updates.
type LocalStore struct {
	mu          sync.Mutex
	matchesPath string
	lobbyPath   string
	now         func() time.Time
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := utils.EnsureDataDir(dir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &LocalStore{
		matchesPath: filepath.Join(dir, matchesFile),
		lobbyPath:   filepath.Join(dir, lobbyFile),
		now:         time.Now,
	}

	// Fail fast on a corrupt table instead of on the first request.
	if _, err := s.load(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.matchesPath, err)
	}
	log.Printf("💾 [LocalStore] File-based store ready at %s", dir)
	return s, nil
}

func (s *LocalStore) Name() string { return "file" }

func (s *LocalStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *LocalStore) load() (map[string]models.MatchRecord, error) {
	matches := map[string]models.MatchRecord{}
	if err := utils.ReadJSONFile(s.matchesPath, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *LocalStore) store(matches map[string]models.MatchRecord) error {
	return utils.WriteJSONFile(s.matchesPath, matches)
}

// modify runs fn over the loaded table under the store lock and writes it back
// when fn reports a change.
func (s *LocalStore) modify(ctx context.Context, fn func(map[string]models.MatchRecord) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(matches)
	if err != nil || !changed {
		return err
	}
	return s.store(matches)
}

func (s *LocalStore) view(ctx context.Context) (map[string]models.MatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *LocalStore) Save(ctx context.Context, rec models.MatchRecord) (models.MatchRecord, error) {
	err := s.modify(ctx, func(m map[string]models.MatchRecord) (bool, error) {
		m[rec.ID] = rec.Clone()
		return true, nil
	})
	if err != nil {
		return models.MatchRecord{}, err
	}
	return rec, nil
}

func (s *LocalStore) Get(ctx context.Context, id string) (models.MatchRecord, error) {
	matches, err := s.view(ctx)
	if err != nil {
		return models.MatchRecord{}, err
	}
	rec, ok := matches[id]
	if !ok {
		return models.MatchRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *LocalStore) Update(ctx context.Context, id string, patch models.MatchPatch) (models.MatchRecord, error) {
	var out models.MatchRecord
	err := s.modify(ctx, func(m map[string]models.MatchRecord) (bool, error) {
		rec, ok := m[id]
		if !ok {
			return false, ErrNotFound
		}
		patch.Apply(&rec)
		rec.UpdatedAt = s.now().UnixMilli()
		rec.Version++
		m[id] = rec
		out = rec
		return true, nil
	})
	return out, err
}

func (s *LocalStore) Swap(ctx context.Context, rec models.MatchRecord, expectedVersion int64) (models.MatchRecord, error) {
	err := s.modify(ctx, func(m map[string]models.MatchRecord) (bool, error) {
		cur, ok := m[rec.ID]
		if !ok {
			return false, ErrNotFound
		}
		if cur.Version != expectedVersion {
			return false, ErrVersionConflict
		}
		m[rec.ID] = rec.Clone()
		return true, nil
	})
	if err != nil {
		return models.MatchRecord{}, err
	}
	return rec, nil
}

func (s *LocalStore) Delete(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.modify(ctx, func(m map[string]models.MatchRecord) (bool, error) {
		if _, ok := m[id]; !ok {
			return false, nil
		}
		delete(m, id)
		deleted = true
		return true, nil
	})
	return deleted, err
}

func (s *LocalStore) ListPublicOpen(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	matches, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	open := make([]models.MatchRecord, 0, len(matches))
	for _, rec := range matches {
		if rec.InLobby() {
			open = append(open, rec)
		}
	}
	sortNewestFirst(open)
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func (s *LocalStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int, error) {
	removed := 0
	err := s.modify(ctx, func(m map[string]models.MatchRecord) (bool, error) {
		for id, rec := range m {
			if rec.CreatedAt < cutoff {
				delete(m, id)
				removed++
			}
		}
		return removed > 0, nil
	})
	return removed, err
}

func (s *LocalStore) DeleteAll(ctx context.Context) (int, error) {
	removed := 0
	err := s.modify(ctx, func(m map[string]models.MatchRecord) (bool, error) {
		removed = len(m)
		clear(m)
		return true, nil
	})
	return removed, err
}

func (s *LocalStore) Stats(ctx context.Context) (models.Stats, error) {
	matches, err := s.view(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	stats := models.NewStats()
	for _, rec := range matches {
		stats.Count(rec)
	}
	return stats, nil
}

func (s *LocalStore) ReplaceLobby(ctx context.Context, entries []models.LobbyEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries == nil {
		entries = []models.LobbyEntry{}
	}
	return utils.WriteJSONFile(s.lobbyPath, entries)
}

func (s *LocalStore) Lobby(ctx context.Context) ([]models.LobbyEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := []models.LobbyEntry{}
	if err := utils.ReadJSONFile(s.lobbyPath, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// sortNewestFirst orders by createdAt descending; id breaks ties so listings are
// stable across calls.
func sortNewestFirst(recs []models.MatchRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt > recs[j].CreatedAt
		}
		return recs[i].ID < recs[j].ID
	})
}
