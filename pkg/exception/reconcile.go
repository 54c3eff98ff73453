package exception

import "errors"

var (
	ErrNoQuorum          = errors.New("reconcile: observers below quorum")
	ErrObserverStale     = errors.New("reconcile: observer heartbeat is stale")
	ErrObserverBadReport = errors.New("reconcile: observer report is malformed")
	ErrBalanceUnknown    = errors.New("reconcile: account balance unavailable")
	ErrPositionUnknown   = errors.New("exchange: no recorded position")
	ErrBreakerOpen       = errors.New("exchange: circuit breaker open")
)
