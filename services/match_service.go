// services/match_service.go
package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"match-state-service/engine"
	"match-state-service/models"
	"match-state-service/storage"
)

// SettlementQueue accepts completed matches for export.
type SettlementQueue interface {
	Enqueue(models.Settlement) bool
}

type MatchService struct {
	Router      *storage.Router
	Engine      *engine.Engine
	Settlements SettlementQueue
}

func NewMatchService(router *storage.Router, eng *engine.Engine, settlements SettlementQueue) *MatchService {
	return &MatchService{Router: router, Engine: eng, Settlements: settlements}
}

// generatedIDAttempts bounds retries when a generated code is already taken.
const generatedIDAttempts = 5

func (s *MatchService) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"backend":   s.Router.Active(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// CreateMatch is idempotent on id: a retry by the same creator returns the
// stored match, a different creator gets 409.
func (s *MatchService) CreateMatch(c *fiber.Ctx) error {
	var req engine.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": engine.CodeValidation})
	}

	attempts := 1
	if req.ID == "" {
		attempts = generatedIDAttempts
	}
	for i := 0; i < attempts; i++ {
		rec, err := s.Engine.NewMatch(req)
		if err != nil {
			return respondError(c, err)
		}
		stored, created, err := s.Router.Create(c.UserContext(), rec)
		if err != nil {
			return respondError(c, err)
		}
		if created {
			log.Printf("✅ [Matches] Created %s (public=%t, wager=%g)", stored.ID, stored.IsPublic, stored.Wager)
			return c.Status(fiber.StatusCreated).JSON(fiber.Map{"match": stored})
		}
		if req.ID != "" {
			if stored.PlayerX == req.PlayerX {
				return c.JSON(fiber.Map{"match": stored})
			}
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "match id already in use", "code": "id_taken"})
		}
	}
	log.Printf("❌ [Matches] No free match code after %d attempts", generatedIDAttempts)
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "could not allocate a match code", "code": "id_taken"})
}

func (s *MatchService) GetMatch(c *fiber.Ctx) error {
	rec, err := s.Router.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"match": rec})
}

func (s *MatchService) UpdateMatch(c *fiber.Ctx) error {
	var patch models.MatchPatch
	if err := json.Unmarshal(c.Body(), &patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": engine.CodeValidation})
	}
	if err := patch.Validate(); err != nil {
		return respondError(c, engine.Validationf(err.Error()))
	}
	rec, err := s.Router.Update(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"match": rec})
}

// ListMatches only serves the public listing (?public=true).
func (s *MatchService) ListMatches(c *fiber.Ctx) error {
	if !c.QueryBool("public") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "only public=true listing is supported", "code": engine.CodeValidation})
	}
	return c.JSON(fiber.Map{"matches": s.Router.ListPublicOpen(c.UserContext(), models.LobbyLimit)})
}

func (s *MatchService) DeleteMatch(c *fiber.Ctx) error {
	id := c.Params("id")
	deleted, err := s.Router.Delete(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	if !deleted {
		return respondError(c, storage.ErrNotFound)
	}
	log.Printf("🗑️ [Matches] Deleted %s", id)
	return c.JSON(fiber.Map{"success": true})
}

func (s *MatchService) JoinMatch(c *fiber.Ctx) error {
	var action engine.Join
	if err := c.BodyParser(&action); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": engine.CodeValidation})
	}
	return s.mutate(c, action)
}

// moveRequest keeps Position a pointer so a missing field is not cell 0.
type moveRequest struct {
	Position *int   `json:"position"`
	Player   string `json:"playerAddress"`
}

func (s *MatchService) MakeMove(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": engine.CodeValidation})
	}
	if req.Position == nil {
		return respondError(c, engine.Validationf("position is required"))
	}
	return s.mutate(c, engine.Move{Position: *req.Position, Player: req.Player})
}

func (s *MatchService) AbandonMatch(c *fiber.Ctx) error {
	var action engine.Abandon
	if err := c.BodyParser(&action); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": engine.CodeValidation})
	}
	return s.mutate(c, action)
}

func (s *MatchService) mutate(c *fiber.Ctx, action engine.Action) error {
	m, err := s.Router.Mutate(c.UserContext(), c.Params("id"), func(rec models.MatchRecord) (models.MatchRecord, error) {
		return s.Engine.Apply(rec, action)
	})
	if err != nil {
		return respondError(c, err)
	}
	if !m.Before.Completed() && m.After.Completed() {
		s.settle(m.After)
	}
	return c.JSON(fiber.Map{"match": m.After})
}

// settle queues the export of a match that just completed.
func (s *MatchService) settle(rec models.MatchRecord) {
	doc, ok := rec.Settlement()
	if !ok || s.Settlements == nil {
		return
	}
	log.Printf("🏁 [Matches] %s completed: %s", rec.ID, doc.Outcome)
	s.Settlements.Enqueue(doc)
}

func (s *MatchService) Lobby(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"entries": s.Router.Lobby(c.UserContext())})
}

func (s *MatchService) Stats(c *fiber.Ctx) error {
	return c.JSON(s.Router.Stats(c.UserContext()))
}

// --- Admin Handlers ---

// CleanupAll deletes every match.
func (s *MatchService) CleanupAll(c *fiber.Ctx) error {
	n, err := s.Router.DeleteAll(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("🧹 [Admin] Deleted all matches (%d)", n)
	return c.JSON(fiber.Map{"success": true, "deleted": n})
}

// Reprobe asks the router to try the durable store again.
func (s *MatchService) Reprobe(c *fiber.Ctx) error {
	up := s.Router.Reprobe(c.UserContext())
	return c.JSON(fiber.Map{"success": true, "durable": up, "backend": s.Router.Active()})
}

func respondError(c *fiber.Ctx, err error) error {
	if code := engine.CodeOf(err); code != "" {
		status := fiber.StatusBadRequest
		if code == engine.CodeNotAPlayer {
			status = fiber.StatusForbidden
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": code})
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found", "code": "not_found"})
	case errors.Is(err, storage.ErrVersionConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match changed, retry", "code": "version_conflict"})
	case errors.Is(err, storage.ErrStorageWriteFailure):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save match", "code": "storage_write_failed"})
	}
	log.Printf("❌ [Matches] Unexpected error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error", "code": "internal"})
}
