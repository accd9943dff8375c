package domain

import "errors"

var (
	ErrMalformed             = errors.New("malformed listing")
	ErrStale                 = errors.New("stale listing")
	ErrAmbiguityTimeout      = errors.New("ambiguity oracle timeout")
	ErrOracleResponse        = errors.New("malformed oracle response")
	ErrInfeasibleConstraints = errors.New("infeasible constraint set")
	ErrCacheInconsistency    = errors.New("cache inconsistency")
	ErrPersistence           = errors.New("persistence failure")
	ErrNotFound              = errors.New("not found")
	ErrNoListings            = errors.New("no listings in snapshot")
	ErrLockHeld              = errors.New("lock already held")
	ErrWSDisconnect          = errors.New("websocket disconnected")
)
