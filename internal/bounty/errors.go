package bounty

import "errors"

// Ledger failures. Each one aborts the call with no state change.
var (
	ErrNotHub             = errors.New("bounty: caller is not the action hub")
	ErrAlreadyInitialized = errors.New("bounty: already initialized")
	ErrInvalidAmount      = errors.New("bounty: invalid amount")
	ErrInvalidExecutor    = errors.New("bounty: invalid executor")
	ErrInvalidCurrency    = errors.New("bounty: invalid currency")
	ErrTransferFailed     = errors.New("bounty: transfer failed")
	ErrNotInitialized     = errors.New("bounty: not initialized")
	ErrAlreadyPaid        = errors.New("bounty: already paid")
	ErrUnauthorized       = errors.New("bounty: unauthorized")
	ErrInvalidExpert      = errors.New("bounty: invalid expert")
	ErrMalformedData      = errors.New("bounty: malformed module data")
)

// UserMessage turns a ledger failure into text a person acting on a bounty
// can do something about. Unknown errors get a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyInitialized):
		return "This question already has a bounty attached."
	case errors.Is(err, ErrInvalidAmount):
		return "The bounty amount must be greater than zero."
	case errors.Is(err, ErrInvalidExecutor):
		return "No funding account was provided for this bounty."
	case errors.Is(err, ErrInvalidCurrency):
		return "The selected currency is not a valid token."
	case errors.Is(err, ErrTransferFailed):
		return "The bounty could not be funded. Check your token balance and approve the bounty module to spend it."
	case errors.Is(err, ErrNotInitialized):
		return "This question has no bounty to pay out."
	case errors.Is(err, ErrAlreadyPaid):
		return "This bounty has already been paid."
	case errors.Is(err, ErrUnauthorized):
		return "Only the person who posted the bounty can accept an answer."
	case errors.Is(err, ErrInvalidExpert):
		return "The accepted answer has no valid author address."
	case errors.Is(err, ErrMalformedData):
		return "The request was malformed. Please retry from the app."
	case errors.Is(err, ErrNotHub):
		return "Bounty actions must go through the Lens action hub."
	default:
		return "Something went wrong while processing the bounty."
	}
}
