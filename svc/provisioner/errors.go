package provisioner

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable          = errors.New("subscription provisioner unavailable")
	ErrSubscriptionConflict = errors.New("another subscription change is in progress for this buyer")
	ErrRecordNotFound       = errors.New("subscription record not found")
	ErrNoPendingChallenge   = errors.New("no subscription challenge is pending")
	ErrInvalidRequest       = errors.New("invalid provisioning request")
	ErrInvalidConfig        = errors.New("invalid provisioner config")
)

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
