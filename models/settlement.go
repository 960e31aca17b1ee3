// models/settlement.go
package models

type Outcome string

const (
	OutcomeXWon      Outcome = "x_won"
	OutcomeOWon      Outcome = "o_won"
	OutcomeTie       Outcome = "tie"
	OutcomeAbandoned Outcome = "abandoned"
)

// Settlement is the completed-match document handed to the external settlement
// process. Escrow and deposit references pass through untouched.
type Settlement struct {
	MatchID       string  `json:"matchId"`
	Outcome       Outcome `json:"outcome"`
	Winner        string  `json:"winner,omitempty"`
	PlayerX       string  `json:"playerX"`
	PlayerO       string  `json:"playerO,omitempty"`
	Wager         float64 `json:"wager"`
	EscrowRef     string  `json:"escrowRef,omitempty"`
	DepositRefX   string  `json:"depositRefX,omitempty"`
	DepositRefO   string  `json:"depositRefO,omitempty"`
	AbandonedBy   string  `json:"abandonedBy,omitempty"`
	AbandonReason string  `json:"abandonReason,omitempty"`
	CompletedAt   int64   `json:"completedAt"`
}

// Completed reports whether the match reached a terminal status.
func (m MatchRecord) Completed() bool {
	return m.Status == StatusFinished || m.Status == StatusAbandoned
}

// Settlement builds the settlement document; ok is false for matches still in play.
func (m MatchRecord) Settlement() (Settlement, bool) {
	if !m.Completed() {
		return Settlement{}, false
	}
	s := Settlement{
		MatchID:       m.ID,
		PlayerX:       m.PlayerX,
		PlayerO:       m.PlayerO,
		Wager:         m.Wager,
		EscrowRef:     m.EscrowRef,
		DepositRefX:   m.DepositRefX,
		DepositRefO:   m.DepositRefO,
		AbandonedBy:   m.AbandonedBy,
		AbandonReason: m.AbandonReason,
		CompletedAt:   m.UpdatedAt,
	}
	switch {
	case m.Status == StatusAbandoned:
		s.Outcome = OutcomeAbandoned
	case m.Winner == nil:
		s.Outcome = OutcomeTie
	case *m.Winner == X:
		s.Outcome = OutcomeXWon
		s.Winner = m.PlayerX
	default:
		s.Outcome = OutcomeOWon
		s.Winner = m.PlayerO
	}
	return s, true
}
