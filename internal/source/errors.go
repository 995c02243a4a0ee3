package source

import "errors"

var (
	ErrUnreadable     = errors.New("build context is unreadable")
	ErrInvalidPattern = errors.New("invalid exclusion pattern")
)
