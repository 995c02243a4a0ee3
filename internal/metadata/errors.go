package metadata

import "errors"

var (
	ErrNotFound  = errors.New("package metadata not found")
	ErrMalformed = errors.New("package metadata is malformed")
)
