package dagger

import "errors"

var (
	ErrConnect = errors.New("cannot connect to dagger engine")
	ErrEngine  = errors.New("dagger engine error")
	ErrNoImage = errors.New("no base image pulled")
)
