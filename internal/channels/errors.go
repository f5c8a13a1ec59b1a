package channels

import "errors"

// Channel registry errors.
var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrInvalidTerms    = errors.New("invalid subscription terms")
)
