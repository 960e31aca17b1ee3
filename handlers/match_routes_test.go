package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"match-state-service/engine"
	"match-state-service/models"
	"match-state-service/services"
	"match-state-service/storage"
)

const testAdminKey = "s3cret"

type queue struct {
	mu   sync.Mutex
	docs []models.Settlement
}

func (q *queue) Enqueue(s models.Settlement) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.docs = append(q.docs, s)
	return true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.docs)
}

type harness struct {
	app    *fiber.App
	router *storage.Router
	queue  *queue
}

func newHarness(t *testing.T, adminKey string) *harness {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	router := storage.NewRouter(context.Background(), nil, local, time.Second)
	q := &queue{}
	svc := services.NewMatchService(router, engine.New(engine.PermissivePolicy()), q)

	app := fiber.New()
	SetupMatchRoutes(app, svc, adminKey)
	return &harness{app: app, router: router, queue: q}
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func matchOf(t *testing.T, body map[string]any) models.MatchRecord {
	t.Helper()
	raw, err := json.Marshal(body["match"])
	require.NoError(t, err)
	var rec models.MatchRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	return rec
}

func (h *harness) create(t *testing.T, id, player string, public bool) models.MatchRecord {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/matches", fiber.Map{"id": id, "playerX": player, "isPublic": public, "creatorName": "alice"})
	require.Equal(t, http.StatusCreated, status, body)
	return matchOf(t, body)
}

func TestCreateAndGetMatch(t *testing.T) {
	h := newHarness(t, testAdminKey)
	rec := h.create(t, "GAME01", "addr-x", true)
	assert.Equal(t, models.StatusWaiting, rec.Status)
	assert.Equal(t, models.X, rec.CurrentTurn)
	assert.Equal(t, int64(1), rec.Version)

	status, body := h.do(t, http.MethodGet, "/matches/GAME01", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, rec.Equal(matchOf(t, body)))

	status, body = h.do(t, http.MethodGet, "/matches/NOPE01", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])
}

func TestCreateGeneratesID(t *testing.T) {
	h := newHarness(t, testAdminKey)
	status, body := h.do(t, http.MethodPost, "/matches", fiber.Map{"playerX": "addr-x"})
	require.Equal(t, http.StatusCreated, status)
	rec := matchOf(t, body)
	assert.Len(t, rec.ID, 6)
}

func TestCreateIsIdempotentForSameCreator(t *testing.T) {
	h := newHarness(t, testAdminKey)
	first := h.create(t, "RETRY1", "addr-x", false)

	status, body := h.do(t, http.MethodPost, "/matches", fiber.Map{"id": "RETRY1", "playerX": "addr-x"})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, first.Equal(matchOf(t, body)))

	status, body = h.do(t, http.MethodPost, "/matches", fiber.Map{"id": "RETRY1", "playerX": "intruder"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "id_taken", body["code"])
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, testAdminKey)
	status, body := h.do(t, http.MethodPost, "/matches", fiber.Map{"id": "BAD01", "playerX": "", "wager": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(engine.CodeValidation), body["code"])

	status, _ = h.do(t, http.MethodPost, "/matches", fiber.Map{"playerX": "a", "wager": -3})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestFullGameEmitsOneSettlement(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "PLAY01", "addr-x", true)

	status, body := h.do(t, http.MethodPost, "/matches/PLAY01/join", fiber.Map{"playerAddress": "addr-o"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, models.StatusPlaying, matchOf(t, body).Status)

	moves := []struct {
		pos    int
		player string
	}{{0, "addr-x"}, {3, "addr-o"}, {1, "addr-x"}, {4, "addr-o"}, {2, "addr-x"}}
	var last models.MatchRecord
	for _, m := range moves {
		status, body = h.do(t, http.MethodPost, "/matches/PLAY01/move", fiber.Map{"position": m.pos, "playerAddress": m.player})
		require.Equal(t, http.StatusOK, status, body)
		last = matchOf(t, body)
	}
	assert.Equal(t, models.StatusFinished, last.Status)
	require.NotNil(t, last.Winner)
	assert.Equal(t, models.X, *last.Winner)
	assert.Equal(t, 1, h.queue.len())

	// No more moves, and no second settlement.
	status, body = h.do(t, http.MethodPost, "/matches/PLAY01/move", fiber.Map{"position": 8, "playerAddress": "addr-o"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(engine.CodeGameNotActive), body["code"])
	assert.Equal(t, 1, h.queue.len())
}

func TestMoveErrorsMapToStatus(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "RULE01", "addr-x", false)
	status, _ := h.do(t, http.MethodPost, "/matches/RULE01/join", fiber.Map{"playerAddress": "addr-o"})
	require.Equal(t, http.StatusOK, status)

	status, body := h.do(t, http.MethodPost, "/matches/RULE01/move", fiber.Map{"position": 0, "playerAddress": "stranger"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, string(engine.CodeNotAPlayer), body["code"])

	status, body = h.do(t, http.MethodPost, "/matches/RULE01/move", fiber.Map{"position": 0, "playerAddress": "addr-o"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(engine.CodeWrongTurn), body["code"])

	status, _ = h.do(t, http.MethodPost, "/matches/RULE01/move", fiber.Map{"position": 0, "playerAddress": "addr-x"})
	require.Equal(t, http.StatusOK, status)
	status, body = h.do(t, http.MethodPost, "/matches/RULE01/move", fiber.Map{"position": 0, "playerAddress": "addr-x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(engine.CodePositionOccupied), body["code"])

	status, _ = h.do(t, http.MethodPost, "/matches/MISSING/move", fiber.Map{"position": 0, "playerAddress": "addr-x"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMoveWithoutPositionRejected(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "NOPOS1", "addr-x", false)
	status, _ := h.do(t, http.MethodPost, "/matches/NOPOS1/join", fiber.Map{"playerAddress": "addr-o"})
	require.Equal(t, http.StatusOK, status)

	status, body := h.do(t, http.MethodPost, "/matches/NOPOS1/move", fiber.Map{"playerAddress": "addr-x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(engine.CodeValidation), body["code"])

	status, body = h.do(t, http.MethodGet, "/matches/NOPOS1", nil)
	require.Equal(t, http.StatusOK, status)
	rec := matchOf(t, body)
	assert.Equal(t, models.Board{}, rec.Board)
	assert.Equal(t, models.X, rec.CurrentTurn)
}

func TestAbandonEmitsSettlement(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "ABND01", "addr-x", true)

	status, body := h.do(t, http.MethodPost, "/matches/ABND01/abandon", fiber.Map{"playerAddress": "addr-x", "reason": "player_request"})
	require.Equal(t, http.StatusOK, status, body)
	rec := matchOf(t, body)
	assert.Equal(t, models.StatusAbandoned, rec.Status)
	assert.Equal(t, "addr-x", rec.AbandonedBy)
	assert.Equal(t, 1, h.queue.len())

	status, body = h.do(t, http.MethodPost, "/matches/ABND01/abandon", fiber.Map{"playerAddress": "addr-x", "reason": "player_request"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(engine.CodeAlreadyAbandoned), body["code"])
}

func TestUpdateMatchAndLobby(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "LOBBY1", "addr-x", false)

	status, body := h.do(t, http.MethodGet, "/lobby", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["entries"])

	status, body = h.do(t, http.MethodPut, "/matches/LOBBY1", fiber.Map{"isPublic": true})
	require.Equal(t, http.StatusOK, status, body)
	assert.True(t, matchOf(t, body).IsPublic)

	status, body = h.do(t, http.MethodGet, "/lobby", nil)
	require.Equal(t, http.StatusOK, status)
	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "LOBBY1", entries[0].(map[string]any)["id"])

	status, body = h.do(t, http.MethodGet, "/matches?public=true", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["matches"], 1)

	status, _ = h.do(t, http.MethodPut, "/matches/LOBBY1", fiber.Map{"currentTurn": 7})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = h.do(t, http.MethodPut, "/matches/NOPE99", fiber.Map{"isPublic": true})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteMatch(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "DEL001", "addr-x", true)

	status, body := h.do(t, http.MethodDelete, "/matches/DEL001", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = h.do(t, http.MethodDelete, "/matches/DEL001", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatsReportsBackend(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "STAT01", "addr-x", true)

	status, body := h.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, "file", body["backend"])
}

func TestAdminCleanupRequiresKey(t *testing.T) {
	h := newHarness(t, testAdminKey)
	h.create(t, "ADM001", "addr-x", true)

	status, _ := h.do(t, http.MethodPost, "/admin/cleanup", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(t, http.MethodPost, "/admin/cleanup", nil, "X-Admin-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, status)

	status, body := h.do(t, http.MethodPost, "/admin/cleanup", fiber.Map{"adminKey": testAdminKey})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["deleted"])

	status, body = h.do(t, http.MethodPost, "/admin/reprobe", nil, "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["durable"])
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	h := newHarness(t, "")
	status, _ := h.do(t, http.MethodPost, "/admin/cleanup", nil, "X-Admin-Key", "anything")
	assert.Equal(t, http.StatusForbidden, status)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, testAdminKey)
	status, body := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
