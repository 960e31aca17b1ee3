// models/match.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Mark is a board cell value and doubles as the seat identifier (X moves first).
type Mark int

const (
	Empty Mark = 0
	X     Mark = 1
	O     Mark = 2
)

func (m Mark) Valid() bool { return m == Empty || m == X || m == O }

// Other returns the opposing seat.
func (m Mark) Other() Mark {
	if m == X {
		return O
	}
	return X
}

func (m Mark) String() string {
	switch m {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return "-"
	}
}

type MatchStatus string

const (
	StatusWaiting   MatchStatus = "waiting"
	StatusPlaying   MatchStatus = "playing"
	StatusFinished  MatchStatus = "finished"
	StatusAbandoned MatchStatus = "abandoned"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusPlaying, StatusFinished, StatusAbandoned:
		return true
	}
	return false
}

// Open reports whether a match in this status belongs in the public lobby.
func (s MatchStatus) Open() bool {
	return s == StatusWaiting || s == StatusPlaying
}

// Board holds the 9 cells row by row.
type Board [9]Mark

func (b Board) Full() bool {
	for _, c := range b {
		if c == Empty {
			return false
		}
	}
	return true
}

// MatchRecord is the canonical representation of one match.
// Timestamps are unix milliseconds to stay wire-compatible with browser clients.
type MatchRecord struct {
	ID          string      `json:"id"`
	PlayerX     string      `json:"playerX"`
	PlayerO     string      `json:"playerO,omitempty"`
	Board       Board       `json:"board"`
	CurrentTurn Mark        `json:"currentTurn"`
	Status      MatchStatus `json:"status"`
	Winner      *Mark       `json:"winner"`

	// 💰 Wager + settlement references (opaque here)
	Wager       float64 `json:"wager"`
	EscrowRef   string  `json:"escrowRef,omitempty"`
	DepositRefX string  `json:"depositRefX,omitempty"`
	DepositRefO string  `json:"depositRefO,omitempty"`

	// 🌐 Lobby
	IsPublic    bool   `json:"isPublic"`
	CreatorName string `json:"creatorName,omitempty"`

	AbandonedBy   string `json:"abandonedBy,omitempty"`
	AbandonReason string `json:"abandonReason,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
	Version   int64 `json:"version"`
}

// Clone returns a deep copy; Winner is the only pointer field.
func (m MatchRecord) Clone() MatchRecord {
	if m.Winner != nil {
		w := *m.Winner
		m.Winner = &w
	}
	return m
}

// Equal compares every caller-visible field.
func (m MatchRecord) Equal(o MatchRecord) bool {
	if (m.Winner == nil) != (o.Winner == nil) {
		return false
	}
	if m.Winner != nil && *m.Winner != *o.Winner {
		return false
	}
	a, b := m, o
	a.Winner, b.Winner = nil, nil
	return a == b
}

// InLobby reports whether the record qualifies for a LobbyEntry.
func (m MatchRecord) InLobby() bool {
	return m.IsPublic && m.Status.Open()
}

// SeatOf returns the seat held by player, or Empty.
func (m MatchRecord) SeatOf(player string) Mark {
	switch {
	case player == "":
		return Empty
	case player == m.PlayerX:
		return X
	case player == m.PlayerO:
		return O
	}
	return Empty
}

// PlayerFor returns the identity sitting in seat.
func (m MatchRecord) PlayerFor(seat Mark) string {
	switch seat {
	case X:
		return m.PlayerX
	case O:
		return m.PlayerO
	}
	return ""
}

// Validate checks structural shape, not game rules.
func (m MatchRecord) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.PlayerX == "" {
		return fmt.Errorf("playerX is required")
	}
	for i, c := range m.Board {
		if !c.Valid() {
			return fmt.Errorf("board[%d] has invalid value %d", i, c)
		}
	}
	if m.CurrentTurn != X && m.CurrentTurn != O {
		return fmt.Errorf("currentTurn must be 1 or 2")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	if m.Winner != nil && *m.Winner != X && *m.Winner != O {
		return fmt.Errorf("winner must be 1, 2 or null")
	}
	return validWager(m.Wager)
}

func validWager(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return fmt.Errorf("wager must be a non-negative number")
	}
	return nil
}

// MatchPatch is a partial update. Nil fields are left untouched; ClearWinner is
// set when the document carried an explicit `"winner": null`.
type MatchPatch struct {
	PlayerO       *string      `json:"playerO,omitempty"`
	Board         *Board       `json:"board,omitempty"`
	CurrentTurn   *Mark        `json:"currentTurn,omitempty"`
	Status        *MatchStatus `json:"status,omitempty"`
	Winner        *Mark        `json:"winner,omitempty"`
	ClearWinner   bool         `json:"-"`
	Wager         *float64     `json:"wager,omitempty"`
	IsPublic      *bool        `json:"isPublic,omitempty"`
	CreatorName   *string      `json:"creatorName,omitempty"`
	EscrowRef     *string      `json:"escrowRef,omitempty"`
	DepositRefX   *string      `json:"depositRefX,omitempty"`
	DepositRefO   *string      `json:"depositRefO,omitempty"`
	AbandonedBy   *string      `json:"abandonedBy,omitempty"`
	AbandonReason *string      `json:"abandonReason,omitempty"`
}

func (p *MatchPatch) UnmarshalJSON(data []byte) error {
	type plain MatchPatch
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = MatchPatch(decoded)
	if w, ok := raw["winner"]; ok && bytes.Equal(bytes.TrimSpace(w), []byte("null")) {
		p.ClearWinner = true
	}
	return nil
}

// TouchesLobby reports whether applying the patch can change lobby membership.
func (p MatchPatch) TouchesLobby() bool {
	return p.IsPublic != nil || p.Status != nil || p.Wager != nil || p.CreatorName != nil
}

func (p MatchPatch) Validate() error {
	if p.Board != nil {
		for i, c := range p.Board {
			if !c.Valid() {
				return fmt.Errorf("board[%d] has invalid value %d", i, c)
			}
		}
	}
	if p.CurrentTurn != nil && *p.CurrentTurn != X && *p.CurrentTurn != O {
		return fmt.Errorf("currentTurn must be 1 or 2")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", *p.Status)
	}
	if p.Winner != nil && *p.Winner != X && *p.Winner != O {
		return fmt.Errorf("winner must be 1, 2 or null")
	}
	if p.Wager != nil {
		return validWager(*p.Wager)
	}
	return nil
}

// Apply writes the patch onto rec. Timestamps and version are the caller's job.
func (p MatchPatch) Apply(rec *MatchRecord) {
	if p.PlayerO != nil {
		rec.PlayerO = *p.PlayerO
	}
	if p.Board != nil {
		rec.Board = *p.Board
	}
	if p.CurrentTurn != nil {
		rec.CurrentTurn = *p.CurrentTurn
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.ClearWinner {
		rec.Winner = nil
	} else if p.Winner != nil {
		w := *p.Winner
		rec.Winner = &w
	}
	if p.Wager != nil {
		rec.Wager = *p.Wager
	}
	if p.IsPublic != nil {
		rec.IsPublic = *p.IsPublic
	}
	if p.CreatorName != nil {
		rec.CreatorName = *p.CreatorName
	}
	if p.EscrowRef != nil {
		rec.EscrowRef = *p.EscrowRef
	}
	if p.DepositRefX != nil {
		rec.DepositRefX = *p.DepositRefX
	}
	if p.DepositRefO != nil {
		rec.DepositRefO = *p.DepositRefO
	}
	if p.AbandonedBy != nil {
		rec.AbandonedBy = *p.AbandonedBy
	}
	if p.AbandonReason != nil {
		rec.AbandonReason = *p.AbandonReason
	}
}
