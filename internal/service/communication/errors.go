package communication

import "errors"

// Sentinel errors for the communication service layer.
var (
	ErrNotFound         = errors.New("communication not found")
	ErrAlreadySending   = errors.New("communication is already sending")
	ErrAlreadyCompleted = errors.New("communication is already completed")
)

// IsConflict reports whether the error is a send-in-progress/completed
// rejection the caller may safely retry later (or not at all).
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadySending) || errors.Is(err, ErrAlreadyCompleted)
}
