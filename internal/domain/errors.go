package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrStrategyFinal = errors.New("strategy is in a terminal phase")
)

// ResolutionError is returned when the instrument resolver cannot produce a
// watch set, typically because no unexpired contract exists for the index as
// of the given time. Fatal to strategy creation; the strategy never enters
// PENDING.
type ResolutionError struct {
	Index  Index
	AsOf   time.Time
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s as of %s: %s", e.Index, e.AsOf.Format(time.RFC3339), e.Reason)
}
