package engine

import "errors"

// Code classifies rule violations for the HTTP layer.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeGameNotActive     Code = "game_not_active"
	CodeNotAPlayer        Code = "not_a_player"
	CodeWrongTurn         Code = "wrong_turn"
	CodePositionOccupied  Code = "position_occupied"
	CodeCannotJoinOwn     Code = "cannot_join_own"
	CodeMatchFull         Code = "match_full"
	CodeDepositRequired   Code = "deposit_required"
	CodeAlreadyAbandoned  Code = "already_abandoned"
	CodeAbandonNotAllowed Code = "abandon_not_allowed"
)

// Error is a rejected action. Two Errors match under errors.Is when their codes match.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValidation        = &Error{Code: CodeValidation, Msg: "invalid request"}
	ErrGameNotActive     = &Error{Code: CodeGameNotActive, Msg: "match is not in a playable state"}
	ErrNotAPlayer        = &Error{Code: CodeNotAPlayer, Msg: "you are not a player in this match"}
	ErrWrongTurn         = &Error{Code: CodeWrongTurn, Msg: "not your turn"}
	ErrPositionOccupied  = &Error{Code: CodePositionOccupied, Msg: "position already taken"}
	ErrCannotJoinOwn     = &Error{Code: CodeCannotJoinOwn, Msg: "cannot join your own match"}
	ErrMatchFull         = &Error{Code: CodeMatchFull, Msg: "match is already full"}
	ErrDepositRequired   = &Error{Code: CodeDepositRequired, Msg: "wagered match requires a deposit reference"}
	ErrAlreadyAbandoned  = &Error{Code: CodeAlreadyAbandoned, Msg: "match already abandoned by this player"}
	ErrAbandonNotAllowed = &Error{Code: CodeAbandonNotAllowed, Msg: "abandonment not permitted for this reason yet"}
)

// Validationf builds a validation error carrying a specific message.
func Validationf(msg string) error {
	return &Error{Code: CodeValidation, Msg: msg}
}

// CodeOf extracts the rule code from err, or "" for non-engine errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
