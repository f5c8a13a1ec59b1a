package identity

import "errors"

// Identity errors.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrForbidden        = errors.New("admin privileges required")
	ErrCannotModifySelf = errors.New("cannot change own admin or block status")
)
