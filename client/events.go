package client

import "match-state-service/models"

type EventKind string

const (
	OpponentJoined EventKind = "opponent_joined"
	OpponentMoved  EventKind = "opponent_moved"
	MatchFinished  EventKind = "match_finished"
	MatchAbandoned EventKind = "match_abandoned"
)

type Event struct {
	Kind  EventKind
	Match models.MatchRecord
}

// Observer receives events outside the cache lock.
type Observer func(Event)

// diffEvents lists what changed between what player saw and next.
func diffEvents(prev *models.MatchRecord, next models.MatchRecord, player string) []Event {
	if prev == nil {
		return nil
	}
	var out []Event
	if prev.Status == models.StatusWaiting && next.Status == models.StatusPlaying &&
		prev.PlayerO == "" && next.PlayerO != "" && player == next.PlayerX {
		out = append(out, Event{Kind: OpponentJoined, Match: next})
	}
	// The turn flips on every move, finishing ones included.
	seat := next.SeatOf(player)
	if seat != models.Empty && next.CurrentTurn == seat && placed(prev.Board, next.Board, seat.Other()) {
		out = append(out, Event{Kind: OpponentMoved, Match: next})
	}
	if prev.Status != next.Status {
		switch next.Status {
		case models.StatusFinished:
			out = append(out, Event{Kind: MatchFinished, Match: next})
		case models.StatusAbandoned:
			out = append(out, Event{Kind: MatchAbandoned, Match: next})
		}
	}
	return out
}

// placed reports whether some cell empty in prev holds mark in next.
func placed(prev, next models.Board, mark models.Mark) bool {
	for i := range next {
		if prev[i] == models.Empty && next[i] == mark {
			return true
		}
	}
	return false
}
