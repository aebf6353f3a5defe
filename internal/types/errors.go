package types

import "errors"

// Domain specific errors for the city store.
var (
	ErrNotFound           = errors.New("requested city not found")
	ErrConflict           = errors.New("city with this id already exists")
	ErrInvalidCity        = errors.New("invalid city payload")
	ErrPreconditionFailed = errors.New("record changed since it was read")
)
