package audit

import "errors"

// Audit errors.
var (
	ErrInvalidEntry  = errors.New("invalid audit entry")
	ErrInvalidFilter = errors.New("invalid audit filter")
)
