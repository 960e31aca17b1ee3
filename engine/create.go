package engine

import (
	"crypto/rand"
	"math"
	"regexp"

	"match-state-service/models"
)

// CreateRequest carries the caller-supplied fields of a new match.
type CreateRequest struct {
	ID          string  `json:"id,omitempty"`
	PlayerX     string  `json:"playerX"`
	Wager       float64 `json:"wager"`
	IsPublic    bool    `json:"isPublic"`
	CreatorName string  `json:"creatorName,omitempty"`
	EscrowRef   string  `json:"escrowRef,omitempty"`
	DepositRefX string  `json:"depositRefX,omitempty"`
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)

// idAlphabet drops 0/O and 1/I/L so codes survive being read aloud.
const idAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const idLength = 6

// NewID returns a short human-shareable match code.
func NewID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf), nil
}

// ValidID reports whether a client-supplied id is acceptable.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// NewMatch validates req and returns the initial record: empty board, X to move,
// waiting for an opponent. An id is generated when req has none.
func (e *Engine) NewMatch(req CreateRequest) (models.MatchRecord, error) {
	if req.PlayerX == "" {
		return models.MatchRecord{}, Validationf("playerX is required")
	}
	if math.IsNaN(req.Wager) || math.IsInf(req.Wager, 0) || req.Wager < 0 {
		return models.MatchRecord{}, Validationf("wager must be a non-negative number")
	}
	id := req.ID
	if id == "" {
		var err error
		if id, err = NewID(); err != nil {
			return models.MatchRecord{}, err
		}
	} else if !ValidID(id) {
		return models.MatchRecord{}, Validationf("id must be 4-32 letters, digits, '-' or '_'")
	}

	now := e.now().UnixMilli()
	return models.MatchRecord{
		ID:          id,
		PlayerX:     req.PlayerX,
		CurrentTurn: models.X,
		Status:      models.StatusWaiting,
		Wager:       req.Wager,
		IsPublic:    req.IsPublic,
		CreatorName: req.CreatorName,
		EscrowRef:   req.EscrowRef,
		DepositRefX: req.DepositRefX,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
