package alert

import "errors"

var (
	ErrFailedToNotify = errors.New("failed to deliver alert")
	ErrInvalidConfig  = errors.New("invalid alert config")
	ErrInvalidAlert   = errors.New("invalid alert")
)
