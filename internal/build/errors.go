package build

import "errors"

var (
	ErrEngine = errors.New("build engine unavailable")
	ErrPrune  = errors.New("prune failed")
)
