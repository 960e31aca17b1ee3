// Package engine is the match state machine. It validates actions against a
// MatchRecord and returns the next record; it never touches storage.
package engine

import (
	"time"

	"match-state-service/models"
)

// Action is one of Join, Move or Abandon.
type Action interface {
	apply(e *Engine, rec *models.MatchRecord) error
}

type Join struct {
	Player     string `json:"playerAddress"`
	DepositRef string `json:"depositRef,omitempty"`
}

type Move struct {
	Position int    `json:"position"`
	Player   string `json:"playerAddress"`
}

type Abandon struct {
	Player string `json:"playerAddress"`
	Reason string `json:"reason"`
}

// winLines are the 3 rows, 3 columns and 2 diagonals.
var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

type Engine struct {
	Policy AbandonPolicy
	Now    func() time.Time
}

func New(policy AbandonPolicy) *Engine {
	return &Engine{Policy: policy, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Apply validates action against rec and returns the resulting record.
// rec itself is left untouched.
func (e *Engine) Apply(rec models.MatchRecord, action Action) (models.MatchRecord, error) {
	next := rec.Clone()
	if err := action.apply(e, &next); err != nil {
		return rec, err
	}
	next.UpdatedAt = e.now().UnixMilli()
	return next, nil
}

func (a Join) apply(_ *Engine, rec *models.MatchRecord) error {
	if a.Player == "" {
		return Validationf("playerAddress is required")
	}
	if rec.Status != models.StatusWaiting {
		return ErrGameNotActive
	}
	if a.Player == rec.PlayerX {
		return ErrCannotJoinOwn
	}
	if rec.PlayerO != "" {
		return ErrMatchFull
	}
	if rec.Wager > 0 && a.DepositRef == "" {
		return ErrDepositRequired
	}
	rec.PlayerO = a.Player
	if a.DepositRef != "" {
		rec.DepositRefO = a.DepositRef
	}
	rec.Status = models.StatusPlaying
	return nil
}

func (a Move) apply(_ *Engine, rec *models.MatchRecord) error {
	if a.Position < 0 || a.Position >= len(rec.Board) {
		return Validationf("position must be between 0 and 8")
	}
	if rec.Status != models.StatusPlaying {
		return ErrGameNotActive
	}
	seat := rec.SeatOf(a.Player)
	if seat == models.Empty {
		return ErrNotAPlayer
	}
	// occupancy first: a retried request must report the cell, not the turn
	if rec.Board[a.Position] != models.Empty {
		return ErrPositionOccupied
	}
	if seat != rec.CurrentTurn {
		return ErrWrongTurn
	}

	rec.Board[a.Position] = seat
	rec.CurrentTurn = seat.Other()

	switch {
	case HasLine(rec.Board, seat):
		w := seat
		rec.Winner = &w
		rec.Status = models.StatusFinished
	case rec.Board.Full():
		rec.Winner = nil
		rec.Status = models.StatusFinished
	}
	return nil
}

func (a Abandon) apply(e *Engine, rec *models.MatchRecord) error {
	if a.Player == "" {
		return Validationf("playerAddress is required")
	}
	switch rec.Status {
	case models.StatusWaiting, models.StatusPlaying:
	case models.StatusAbandoned:
		if rec.AbandonedBy == a.Player {
			return ErrAlreadyAbandoned
		}
	default:
		return ErrGameNotActive
	}
	age := e.now().Sub(time.UnixMilli(rec.CreatedAt))
	if !e.Policy.allows(a.Reason, age) {
		return ErrAbandonNotAllowed
	}
	rec.Status = models.StatusAbandoned
	rec.Winner = nil
	rec.AbandonedBy = a.Player
	rec.AbandonReason = a.Reason
	return nil
}

// HasLine reports whether mark occupies any full winning line.
func HasLine(b models.Board, mark models.Mark) bool {
	for _, line := range winLines {
		if b[line[0]] == mark && b[line[1]] == mark && b[line[2]] == mark {
			return true
		}
	}
	return false
}

// IsTurnOf reports whether it is player's move in rec.
func IsTurnOf(rec models.MatchRecord, player string) bool {
	seat := rec.SeatOf(player)
	return seat != models.Empty && seat == rec.CurrentTurn && rec.Status == models.StatusPlaying
}
