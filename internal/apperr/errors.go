package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid input")
	ErrClosed   = errors.New("cache closed")
	ErrNotSaved = errors.New("settings not saved")
)
