package cache

import "errors"

var (
	ErrOpen    = errors.New("cannot open cache index")
	ErrQuery   = errors.New("cache query failed")
	ErrCorrupt = errors.New("corrupt cache entry")
)
