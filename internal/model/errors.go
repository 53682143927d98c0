package model

import "errors"

var (
	ErrInvalidEvent     = errors.New("study event has inconsistent or negative fields")
	ErrInvalidEventType = errors.New("unknown study event type")
)
