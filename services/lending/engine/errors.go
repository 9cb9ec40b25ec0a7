package engine

import "errors"

var (
	ErrNotFound        = errors.New("lending: not found")
	ErrInvalidAmount   = errors.New("lending: invalid amount")
	ErrInvalidAddress  = errors.New("lending: invalid address")
	ErrUnauthenticated = errors.New("lending: caller identity required")
)
