package conversation

import "errors"

// Domain-level errors for conversation behaviors
var (
	ErrStaleSelection    = errors.New("conversation: selected conversation is not in the store")
	ErrMissingIdentifier = errors.New("conversation: item id and user id are required")
	ErrItemNotFound      = errors.New("conversation: item not found")
	ErrProfileNotFound   = errors.New("conversation: profile not found")
	ErrNotFound          = errors.New("conversation: conversation not found for user")
	ErrInvalidRow        = errors.New("conversation: row is missing its identifiers")
)
