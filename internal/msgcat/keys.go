package msgcat

// Catalog keys used by the handlers.
const (
	ErrGeneric        = "error.generic"
	ErrMalformed      = "error.malformed"
	ErrUnsupported    = "error.unsupported"
	ErrInvalidPayload = "error.invalid_payload"
	ErrJoinFirst      = "error.join_first"
	ErrChatJoinFirst  = "error.chat_join_first"
	ErrGameNotFound   = "error.game_not_found"
	ErrGameIDRequired = "error.game_id_required"
	ErrMoveInvalid    = "error.move_invalid"
	ErrChatEmpty      = "error.chat_empty"
	ErrEndNoLoser     = "error.end_no_loser"
	ErrLoserNotFound  = "error.loser_not_found"
	ErrWinnerNotFound = "error.winner_not_found"
	ErrGameOver       = "error.game_over"
	ErrNotStarted     = "error.not_started"
	ErrNotYourTurn    = "error.not_your_turn"
	ErrNotSeated      = "error.not_seated"

	GameStarted = "game.started"
)

// All lists every key above. The server refuses to start unless each one renders.
var All = []string{
	ErrGeneric, ErrMalformed, ErrUnsupported, ErrInvalidPayload, ErrJoinFirst,
	ErrChatJoinFirst, ErrGameNotFound, ErrGameIDRequired, ErrMoveInvalid, ErrChatEmpty,
	ErrEndNoLoser, ErrLoserNotFound, ErrWinnerNotFound, ErrGameOver, ErrNotStarted,
	ErrNotYourTurn, ErrNotSeated, GameStarted,
}
