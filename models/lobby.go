// models/lobby.go
package models

// LobbyLimit caps the public lobby to the most recent entries.
const LobbyLimit = 20

// LobbyEntry is the denormalized projection of a public open match.
type LobbyEntry struct {
	ID          string      `json:"id"`
	PlayerX     string      `json:"playerX"`
	CreatorName string      `json:"creatorName,omitempty"`
	Wager       float64     `json:"wager"`
	CreatedAt   int64       `json:"createdAt"`
	Status      MatchStatus `json:"status"`
}

func (m MatchRecord) LobbyEntry() LobbyEntry {
	return LobbyEntry{
		ID:          m.ID,
		PlayerX:     m.PlayerX,
		CreatorName: m.CreatorName,
		Wager:       m.Wager,
		CreatedAt:   m.CreatedAt,
		Status:      m.Status,
	}
}

// Stats aggregates counts over the whole match table.
type Stats struct {
	Total     int                 `json:"total"`
	Public    int                 `json:"public"`
	ByStatus  map[MatchStatus]int `json:"byStatus"`
	Backend   string              `json:"backend"`
	Timestamp int64               `json:"timestamp"`
}

// NewStats returns Stats with every status present so clients never see a missing key.
func NewStats() Stats {
	return Stats{ByStatus: map[MatchStatus]int{
		StatusWaiting:   0,
		StatusPlaying:   0,
		StatusFinished:  0,
		StatusAbandoned: 0,
	}}
}

// Count adds one record to the aggregate.
func (s *Stats) Count(m MatchRecord) {
	s.Total++
	if m.IsPublic {
		s.Public++
	}
	s.ByStatus[m.Status]++
}
