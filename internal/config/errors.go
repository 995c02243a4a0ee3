package config

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnpinnedBase  = errors.New("base image is not version-pinned")
	ErrReadConfig    = errors.New("failed to read configuration")
)
