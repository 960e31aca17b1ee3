package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"match-state-service/engine"
	"match-state-service/models"
)

// ErrDeferred means a local write was in flight, so the fetched state was not
// applied. The next reconciliation picks it up.
var ErrDeferred = errors.New("reconcile deferred: local write outstanding")

const DefaultWatchInterval = 2 * time.Second

// entry keeps the last acknowledged record apart from unconfirmed local state.
type entry struct {
	authoritative *models.MatchRecord
	optimistic    *models.MatchRecord
	outstanding   int
}

// view is the optimistic record while one exists, else the authoritative one.
func (e *entry) view() *models.MatchRecord {
	if e.optimistic != nil {
		return e.optimistic
	}
	return e.authoritative
}

// Cache mirrors the matches one player takes part in.
type Cache struct {
	mu        sync.Mutex
	authority Authority
	engine    *engine.Engine
	player    string
	observer  Observer
	entries   map[string]*entry
}

// NewCache builds a cache for player. observer may be nil.
func NewCache(authority Authority, player string, observer Observer) *Cache {
	return &Cache{
		authority: authority,
		engine:    engine.New(engine.PermissivePolicy()),
		player:    player,
		observer:  observer,
		entries:   make(map[string]*entry),
	}
}

func (c *Cache) Player() string { return c.player }

// View returns what the player should see for id.
func (c *Cache) View(id string) (models.MatchRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.view() == nil {
		return models.MatchRecord{}, false
	}
	return e.view().Clone(), true
}

// Pending reports whether id carries local state the service has not confirmed.
func (c *Cache) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && e.optimistic != nil
}

func (c *Cache) entry(id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	return e
}

func (c *Cache) emit(events []Event) {
	if c.observer == nil {
		return
	}
	for _, ev := range events {
		c.observer(ev)
	}
}

// Create shows the new match immediately and confirms it with the service.
// Offline, the local match is kept and returned without error.
func (c *Cache) Create(ctx context.Context, req engine.CreateRequest) (models.MatchRecord, error) {
	if req.ID == "" {
		id, err := engine.NewID()
		if err != nil {
			return models.MatchRecord{}, err
		}
		req.ID = id
	}
	req.PlayerX = c.player
	rec, err := c.engine.NewMatch(req)
	if err != nil {
		return models.MatchRecord{}, err
	}

	c.beginWrite(rec)
	ack, err := c.authority.Create(ctx, req)
	return c.finishWrite(rec.ID, ack, err)
}

// Move validates locally, shows the result at once and confirms it.
func (c *Cache) Move(ctx context.Context, id string, position int) (models.MatchRecord, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok || e.view() == nil {
		c.mu.Unlock()
		return models.MatchRecord{}, ErrNotFound
	}
	action := engine.Move{Position: position, Player: c.player}
	next, err := c.engine.Apply(*e.view(), action)
	if err != nil {
		c.mu.Unlock()
		return models.MatchRecord{}, err
	}
	e.optimistic = &next
	e.outstanding++
	c.mu.Unlock()

	ack, err := c.authority.Move(ctx, id, action)
	return c.finishWrite(id, ack, err)
}

// Join goes straight to the service.
func (c *Cache) Join(ctx context.Context, id, depositRef string) (models.MatchRecord, error) {
	rec, err := c.authority.Join(ctx, id, engine.Join{Player: c.player, DepositRef: depositRef})
	if err != nil {
		return models.MatchRecord{}, err
	}
	c.store(id, rec)
	return rec, nil
}

// Abandon goes straight to the service.
func (c *Cache) Abandon(ctx context.Context, id, reason string) (models.MatchRecord, error) {
	rec, err := c.authority.Abandon(ctx, id, engine.Abandon{Player: c.player, Reason: reason})
	if err != nil {
		return models.MatchRecord{}, err
	}
	c.store(id, rec)
	return rec, nil
}

func (c *Cache) ListLobby(ctx context.Context) ([]models.LobbyEntry, error) {
	return c.authority.Lobby(ctx)
}

func (c *Cache) beginWrite(rec models.MatchRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(rec.ID)
	e.optimistic = &rec
	e.outstanding++
}

// finishWrite settles one outstanding write: an ack becomes authoritative, a
// rejection rolls the optimistic state back, a transport failure keeps it.
func (c *Cache) finishWrite(id string, ack models.MatchRecord, err error) (models.MatchRecord, error) {
	c.mu.Lock()
	e := c.entry(id)
	e.outstanding--

	var rejected *RejectedError
	switch {
	case err == nil:
		var events []Event
		if e.outstanding == 0 {
			events = diffEvents(e.view(), ack, c.player)
			e.optimistic = nil
		}
		e.authoritative = &ack
		view := e.view().Clone()
		c.mu.Unlock()
		c.emit(events)
		return view, nil

	case errors.As(err, &rejected):
		// Another write still in flight owns the optimistic slot.
		if e.outstanding == 0 {
			e.optimistic = nil
			if e.authoritative == nil {
				delete(c.entries, id)
			}
		}
		c.mu.Unlock()
		return models.MatchRecord{}, err

	default:
		defer c.mu.Unlock()
		log.Printf("⚠️ [Client] %s kept locally, service unreachable: %v", id, err)
		if v := e.view(); v != nil {
			return v.Clone(), nil
		}
		return models.MatchRecord{}, err
	}
}

// store installs rec as authoritative unless a local write is in flight.
func (c *Cache) store(id string, rec models.MatchRecord) {
	c.mu.Lock()
	e := c.entry(id)
	var events []Event
	if e.outstanding == 0 {
		events = diffEvents(e.authoritative, rec, c.player)
		e.optimistic = nil
	}
	e.authoritative = &rec
	c.mu.Unlock()
	c.emit(events)
}

// Reconcile fetches the service's record for id and, when no local write is in
// flight and it differs from the current view, replaces the cached state.
func (c *Cache) Reconcile(ctx context.Context, id string) (models.MatchRecord, error) {
	fetched, err := c.authority.Get(ctx, id)
	if err != nil {
		return models.MatchRecord{}, err
	}

	c.mu.Lock()
	e := c.entry(id)
	if e.outstanding > 0 {
		var view models.MatchRecord
		if v := e.view(); v != nil {
			view = v.Clone()
		}
		c.mu.Unlock()
		return view, ErrDeferred
	}

	// With nothing in flight, an optimistic record is one the service never
	// acknowledged, so the diff runs against the last acknowledged state.
	var events []Event
	if prev := e.authoritative; prev == nil || !prev.Equal(fetched) {
		events = diffEvents(prev, fetched, c.player)
	}
	e.authoritative = &fetched
	e.optimistic = nil
	c.mu.Unlock()

	c.emit(events)
	return fetched.Clone(), nil
}

// Watch polls id every interval until ctx is done. The first poll runs at once
// and polls never overlap. Run it in its own goroutine.
func (c *Cache) Watch(ctx context.Context, id string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Reconcile(ctx, id); err != nil && !errors.Is(err, ErrDeferred) && ctx.Err() == nil {
			log.Printf("⚠️ [Client] Poll for %s failed: %v", id, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
