// Package client is the player-side mirror of match state. It applies moves
// optimistically, confirms them with the match service and reconciles against
// polled server state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"match-state-service/engine"
	"match-state-service/models"
	"match-state-service/utils"
)

var (
	// ErrUnavailable covers transport failures and 5xx answers. Optimistic
	// state survives it.
	ErrUnavailable = errors.New("match service unavailable")
	ErrNotFound    = errors.New("match not found")
)

// RejectedError is a 4xx answer: the service saw the request and refused it.
type RejectedError struct {
	Status int
	Code   string
	Msg    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%d %s): %s", e.Status, e.Code, e.Msg)
}

// Unwrap exposes engine rule errors and ErrNotFound to errors.Is.
func (e *RejectedError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	if e.Code != "" {
		return &engine.Error{Code: engine.Code(e.Code), Msg: e.Msg}
	}
	return nil
}

// Authority is the remote source of truth.
type Authority interface {
	Create(ctx context.Context, req engine.CreateRequest) (models.MatchRecord, error)
	Get(ctx context.Context, id string) (models.MatchRecord, error)
	Join(ctx context.Context, id string, a engine.Join) (models.MatchRecord, error)
	Move(ctx context.Context, id string, a engine.Move) (models.MatchRecord, error)
	Abandon(ctx context.Context, id string, a engine.Abandon) (models.MatchRecord, error)
	Lobby(ctx context.Context) ([]models.LobbyEntry, error)
	Health(ctx context.Context) error
}

// HTTPAuthority talks to the match service over its JSON API.
type HTTPAuthority struct {
	BaseURL     string
	HTTPClient  *http.Client
	ProbeClient *http.Client
}

func NewHTTPAuthority(baseURL string) *HTTPAuthority {
	return &HTTPAuthority{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTPClient:  utils.HTTPClient,
		ProbeClient: utils.ProbeClient,
	}
}

func (a *HTTPAuthority) Create(ctx context.Context, req engine.CreateRequest) (models.MatchRecord, error) {
	return a.match(ctx, http.MethodPost, "/matches", req)
}

func (a *HTTPAuthority) Get(ctx context.Context, id string) (models.MatchRecord, error) {
	return a.match(ctx, http.MethodGet, "/matches/"+url.PathEscape(id), nil)
}

func (a *HTTPAuthority) Join(ctx context.Context, id string, act engine.Join) (models.MatchRecord, error) {
	return a.match(ctx, http.MethodPost, "/matches/"+url.PathEscape(id)+"/join", act)
}

func (a *HTTPAuthority) Move(ctx context.Context, id string, act engine.Move) (models.MatchRecord, error) {
	return a.match(ctx, http.MethodPost, "/matches/"+url.PathEscape(id)+"/move", act)
}

func (a *HTTPAuthority) Abandon(ctx context.Context, id string, act engine.Abandon) (models.MatchRecord, error) {
	return a.match(ctx, http.MethodPost, "/matches/"+url.PathEscape(id)+"/abandon", act)
}

func (a *HTTPAuthority) Lobby(ctx context.Context) ([]models.LobbyEntry, error) {
	var out struct {
		Entries []models.LobbyEntry `json:"entries"`
	}
	if err := a.do(ctx, a.HTTPClient, http.MethodGet, "/lobby", nil, &out); err != nil {
		return nil, err
	}
	if out.Entries == nil {
		out.Entries = []models.LobbyEntry{}
	}
	return out.Entries, nil
}

func (a *HTTPAuthority) Health(ctx context.Context) error {
	return a.do(ctx, a.ProbeClient, http.MethodGet, "/health", nil, nil)
}

func (a *HTTPAuthority) match(ctx context.Context, method, path string, body any) (models.MatchRecord, error) {
	var out struct {
		Match models.MatchRecord `json:"match"`
	}
	if err := a.do(ctx, a.HTTPClient, method, path, body, &out); err != nil {
		return models.MatchRecord{}, err
	}
	return out.Match, nil
}

func (a *HTTPAuthority) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(msg))
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &RejectedError{Status: resp.StatusCode, Code: e.Code, Msg: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
