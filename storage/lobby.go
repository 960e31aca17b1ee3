package storage

import (
	"context"

	"match-state-service/models"
)

// LobbyIndex keeps the lobby projection equal to the set of public open matches.
// It recomputes from the match table instead of patching entries, so a missed
// refresh heals on the next write.
type LobbyIndex struct {
	Limit int
}

func NewLobbyIndex() *LobbyIndex {
	return &LobbyIndex{Limit: models.LobbyLimit}
}

// Entries derives the projection from b's match table.
func (l *LobbyIndex) Entries(ctx context.Context, b Backend) ([]models.LobbyEntry, error) {
	recs, err := b.ListPublicOpen(ctx, l.Limit)
	if err != nil {
		return nil, err
	}
	entries := make([]models.LobbyEntry, 0, len(recs))
	for _, rec := range recs {
		if rec.InLobby() {
			entries = append(entries, rec.LobbyEntry())
		}
	}
	return entries, nil
}

// Refresh re-derives the projection and persists it into b.
func (l *LobbyIndex) Refresh(ctx context.Context, b Backend) ([]models.LobbyEntry, error) {
	entries, err := l.Entries(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := b.ReplaceLobby(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}
