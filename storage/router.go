package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"match-state-service/models"
)

// Mutation is the before/after pair of one engine transition.
type Mutation struct {
	Before models.MatchRecord
	After  models.MatchRecord
}

// Router sends every call to the durable store while it answers and moves to the
// local store for good the first time it does not. Durable writes are mirrored
// into the local store so nothing written before a failover disappears after it.
type Router struct {
	durable Backend
	local   Backend
	lobby   *LobbyIndex
	locks   *keyedLocks
	now     func() time.Time

	// gate lets per-match writes run together and keeps bulk deletes exclusive.
	gate sync.RWMutex
	// lobbyMu serializes refreshes so the last one always reads the newest table.
	lobbyMu sync.Mutex

	durableUp  atomic.Bool
	lobbyStale atomic.Bool

	probeTimeout time.Duration
}

// NewRouter probes durable once, bounded by probeTimeout. A nil durable runs the
// router in local-only mode.
func NewRouter(ctx context.Context, durable, local Backend, probeTimeout time.Duration) *Router {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	r := &Router{
		durable:      durable,
		local:        local,
		lobby:        NewLobbyIndex(),
		locks:        newKeyedLocks(),
		now:          time.Now,
		probeTimeout: probeTimeout,
	}
	// Rebuild the projection on first read.
	r.lobbyStale.Store(true)

	if durable == nil {
		log.Println("⚠️ [Router] No durable store configured, running on local files")
		return r
	}
	r.probe(ctx)
	return r
}

func (r *Router) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.probeTimeout)
	defer cancel()

	if err := r.durable.Ping(ctx); err != nil {
		log.Printf("⚠️ [Router] %s unreachable, using %s: %v", r.durable.Name(), r.local.Name(), err)
		r.durableUp.Store(false)
		return false
	}
	log.Printf("✅ [Router] Connected to %s", r.durable.Name())
	r.durableUp.Store(true)
	return true
}

// Reprobe checks the durable store again and switches back to it when it answers.
// Records written locally in the meantime are not copied back.
func (r *Router) Reprobe(ctx context.Context) bool {
	if r.durable == nil {
		return false
	}
	was := r.durableUp.Load()
	up := r.probe(ctx)
	if up && !was {
		r.lobbyStale.Store(true)
	}
	return up
}

// Active names the backend currently serving calls.
func (r *Router) Active() string {
	if r.durableUp.Load() {
		return r.durable.Name()
	}
	return r.local.Name()
}

func (r *Router) DurableUp() bool { return r.durableUp.Load() }

func (r *Router) markDown(op string, err error) {
	if r.durableUp.CompareAndSwap(true, false) {
		log.Printf("⚠️ [Router] %s failed on %s, switching to %s: %v", op, r.durable.Name(), r.local.Name(), err)
		r.lobbyStale.Store(true)
	}
}

// route runs call on the durable store while it is up and on the local store
// otherwise. A non-domain durable failure marks it down and replays the call
// locally. The returned Backend is the one whose answer is returned.
func route[T any](ctx context.Context, r *Router, op string, call func(Backend) (T, error)) (T, Backend, error) {
	if r.durableUp.Load() {
		v, err := call(r.durable)
		if err == nil || isDomainErr(err) {
			return v, r.durable, err
		}
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about the store.
			return v, r.durable, err
		}
		r.markDown(op, err)
	}
	v, err := call(r.local)
	return v, r.local, err
}

func (r *Router) writeFailure(op string, b Backend, err error) error {
	log.Printf("❌ [Router] %s failed on %s: %v", op, b.Name(), err)
	return fmt.Errorf("%w: %s on %s: %v", ErrStorageWriteFailure, op, b.Name(), err)
}

// mirror copies a durable answer into the local store. Failures only log.
func (r *Router) mirror(served Backend, op string, fn func(Backend) error) {
	if served == r.local {
		return
	}
	if err := fn(r.local); err != nil {
		log.Printf("⚠️ [Router] mirror %s to %s failed: %v", op, r.local.Name(), err)
	}
}

// Save upserts rec, stamping updatedAt and bumping version.
func (r *Router) Save(ctx context.Context, rec models.MatchRecord) (models.MatchRecord, error) {
	unlock := r.locks.Lock(rec.ID)
	defer unlock()
	r.gate.RLock()
	defer r.gate.RUnlock()

	return r.save(ctx, rec)
}

// Create saves rec unless its id is taken, in which case the stored record is
// returned with created == false.
func (r *Router) Create(ctx context.Context, rec models.MatchRecord) (models.MatchRecord, bool, error) {
	unlock := r.locks.Lock(rec.ID)
	defer unlock()
	r.gate.RLock()
	defer r.gate.RUnlock()

	existing, b, err := route(ctx, r, "get", func(b Backend) (models.MatchRecord, error) {
		return b.Get(ctx, rec.ID)
	})
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return models.MatchRecord{}, false, r.writeFailure("create", b, err)
	}
	saved, err := r.save(ctx, rec)
	return saved, err == nil, err
}

func (r *Router) save(ctx context.Context, rec models.MatchRecord) (models.MatchRecord, error) {
	rec = rec.Clone()
	now := r.now().UnixMilli()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version++

	saved, b, err := route(ctx, r, "save", func(b Backend) (models.MatchRecord, error) {
		return b.Save(ctx, rec)
	})
	if err != nil {
		return models.MatchRecord{}, r.writeFailure("save", b, err)
	}
	r.mirror(b, "save", func(l Backend) error {
		_, err := l.Save(ctx, saved)
		return err
	})
	r.refreshAfterWrite(ctx)
	return saved, nil
}

// Get degrades any store failure to ErrNotFound.
func (r *Router) Get(ctx context.Context, id string) (models.MatchRecord, error) {
	rec, b, err := route(ctx, r, "get", func(b Backend) (models.MatchRecord, error) {
		return b.Get(ctx, id)
	})
	if err != nil && !isDomainErr(err) {
		log.Printf("⚠️ [Router] get %s failed on %s: %v", id, b.Name(), err)
		return models.MatchRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *Router) Update(ctx context.Context, id string, patch models.MatchPatch) (models.MatchRecord, error) {
	unlock := r.locks.Lock(id)
	defer unlock()
	r.gate.RLock()
	defer r.gate.RUnlock()

	updated, b, err := route(ctx, r, "update", func(b Backend) (models.MatchRecord, error) {
		return b.Update(ctx, id, patch)
	})
	if isDomainErr(err) {
		return models.MatchRecord{}, err
	}
	if err != nil {
		return models.MatchRecord{}, r.writeFailure("update", b, err)
	}
	r.mirror(b, "update", func(l Backend) error {
		_, err := l.Save(ctx, updated)
		return err
	})
	if patch.TouchesLobby() {
		r.refreshAfterWrite(ctx)
	}
	return updated, nil
}

// Mutate runs fn against the current record under the match lock and stores
// the result only if nobody else wrote in between. fn must not keep the record.
func (r *Router) Mutate(ctx context.Context, id string, fn func(models.MatchRecord) (models.MatchRecord, error)) (Mutation, error) {
	unlock := r.locks.Lock(id)
	defer unlock()
	r.gate.RLock()
	defer r.gate.RUnlock()

	cur, b, err := route(ctx, r, "get", func(b Backend) (models.MatchRecord, error) {
		return b.Get(ctx, id)
	})
	if isDomainErr(err) {
		return Mutation{}, err
	}
	if err != nil {
		return Mutation{}, r.writeFailure("mutate", b, err)
	}

	next, err := fn(cur.Clone())
	if err != nil {
		return Mutation{}, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	if next.UpdatedAt <= cur.UpdatedAt {
		next.UpdatedAt = r.now().UnixMilli()
	}

	stored, b, err := route(ctx, r, "swap", func(b Backend) (models.MatchRecord, error) {
		return b.Swap(ctx, next, cur.Version)
	})
	if isDomainErr(err) {
		return Mutation{}, err
	}
	if err != nil {
		return Mutation{}, r.writeFailure("mutate", b, err)
	}
	r.mirror(b, "mutate", func(l Backend) error {
		_, err := l.Save(ctx, stored)
		return err
	})
	r.refreshAfterWrite(ctx)
	return Mutation{Before: cur, After: stored}, nil
}

func (r *Router) Delete(ctx context.Context, id string) (bool, error) {
	unlock := r.locks.Lock(id)
	defer unlock()
	r.gate.RLock()
	defer r.gate.RUnlock()

	deleted, b, err := route(ctx, r, "delete", func(b Backend) (bool, error) {
		return b.Delete(ctx, id)
	})
	if err != nil {
		return false, r.writeFailure("delete", b, err)
	}
	r.mirror(b, "delete", func(l Backend) error {
		_, err := l.Delete(ctx, id)
		return err
	})
	if deleted {
		r.refreshAfterWrite(ctx)
	}
	return deleted, nil
}

// ListPublicOpen degrades to an empty list.
func (r *Router) ListPublicOpen(ctx context.Context, limit int) []models.MatchRecord {
	recs, b, err := route(ctx, r, "list", func(b Backend) ([]models.MatchRecord, error) {
		return b.ListPublicOpen(ctx, limit)
	})
	if err != nil {
		log.Printf("⚠️ [Router] list failed on %s: %v", b.Name(), err)
		return []models.MatchRecord{}
	}
	return recs
}

// DeleteOlderThan removes records created strictly before cutoff (unix ms).
// It waits for in-flight match writes so a mutation never lands on a record
// that cleanup already removed.
func (r *Router) DeleteOlderThan(ctx context.Context, cutoff int64) (int, error) {
	r.gate.Lock()
	defer r.gate.Unlock()

	n, b, err := route(ctx, r, "cleanup", func(b Backend) (int, error) {
		return b.DeleteOlderThan(ctx, cutoff)
	})
	if err != nil {
		return 0, r.writeFailure("cleanup", b, err)
	}
	r.mirror(b, "cleanup", func(l Backend) error {
		_, err := l.DeleteOlderThan(ctx, cutoff)
		return err
	})
	if n > 0 {
		r.refreshAfterWrite(ctx)
	}
	return n, nil
}

func (r *Router) DeleteAll(ctx context.Context) (int, error) {
	r.gate.Lock()
	defer r.gate.Unlock()

	n, b, err := route(ctx, r, "delete all", func(b Backend) (int, error) {
		return b.DeleteAll(ctx)
	})
	if err != nil {
		return 0, r.writeFailure("delete all", b, err)
	}
	r.mirror(b, "delete all", func(l Backend) error {
		_, err := l.DeleteAll(ctx)
		return err
	})
	r.refreshAfterWrite(ctx)
	return n, nil
}

// Stats degrades to zero counts. Backend and Timestamp are always filled.
func (r *Router) Stats(ctx context.Context) models.Stats {
	stats, b, err := route(ctx, r, "stats", func(b Backend) (models.Stats, error) {
		return b.Stats(ctx)
	})
	if err != nil {
		log.Printf("⚠️ [Router] stats failed on %s: %v", b.Name(), err)
		stats = models.NewStats()
	}
	stats.Backend = b.Name()
	stats.Timestamp = r.now().UnixMilli()
	return stats
}

// RefreshLobby rebuilds the lobby projection on the active backend, and on the
// local one too when durable served it.
func (r *Router) RefreshLobby(ctx context.Context) ([]models.LobbyEntry, error) {
	r.lobbyMu.Lock()
	defer r.lobbyMu.Unlock()

	// Cleared up front so a failover during the refresh marks it stale again.
	r.lobbyStale.Store(false)
	entries, b, err := route(ctx, r, "lobby refresh", func(b Backend) ([]models.LobbyEntry, error) {
		return r.lobby.Refresh(ctx, b)
	})
	if err != nil {
		r.lobbyStale.Store(true)
		return nil, err
	}
	r.mirror(b, "lobby refresh", func(l Backend) error {
		_, err := r.lobby.Refresh(ctx, l)
		return err
	})
	return entries, nil
}

func (r *Router) refreshAfterWrite(ctx context.Context) {
	if _, err := r.RefreshLobby(ctx); err != nil {
		log.Printf("⚠️ [Router] lobby refresh failed: %v", err)
	}
}

// Lobby returns the projection, rebuilding it first after a failover.
func (r *Router) Lobby(ctx context.Context) []models.LobbyEntry {
	if r.lobbyStale.Load() {
		if entries, err := r.RefreshLobby(ctx); err == nil {
			return entries
		}
	}
	entries, b, err := route(ctx, r, "lobby", func(b Backend) ([]models.LobbyEntry, error) {
		return b.Lobby(ctx)
	})
	if err != nil {
		log.Printf("⚠️ [Router] lobby read failed on %s: %v", b.Name(), err)
		return []models.LobbyEntry{}
	}
	return entries
}
