package ledger

import "errors"

// Sentinel errors for the ledger service layer.
var (
	ErrNotFound       = errors.New("mail not found")
	ErrMissingKey     = errors.New("attempt key is required")
	ErrMissingContact = errors.New("contact id is required")
)
