package domain

import "errors"

// Domain errors. Engine failures wrap one of these with detail, so callers
// branch on the category with errors.Is rather than on the message.
var (
	ErrNotFound           = errors.New("not found")
	ErrGameNotActive      = errors.New("game not active")
	ErrTurnMismatch       = errors.New("turn mismatch")
	ErrInvalidPlacement   = errors.New("invalid placement")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrMissingParticipant = errors.New("missing participant")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrGameNotActive, "game_not_active"},
	{ErrTurnMismatch, "turn_mismatch"},
	{ErrInvalidPlacement, "invalid_placement"},
	{ErrInvalidOutcome, "invalid_outcome"},
	{ErrMissingParticipant, "missing_participant"},
	{ErrInvalidRequest, "invalid_request"},
}

// Kind returns the stable category code of err, or "internal" when err does
// not wrap a domain error.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflictError reports errors caused by the game having moved on since the
// caller last looked at it.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrGameNotActive) || errors.Is(err, ErrTurnMismatch)
}
