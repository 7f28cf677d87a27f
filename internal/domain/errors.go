package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrMarketExists     = errors.New("market already tracked")
	ErrMarketTerminal   = errors.New("market is terminal")
	ErrBadTransition    = errors.New("invalid state transition")
	ErrTradingHalted    = errors.New("trading halted by kill switch")
	ErrBreakerOpen      = errors.New("circuit breaker open")
	ErrWatchlistFull    = errors.New("watchlist at capacity")
	ErrNotExecuting     = errors.New("market not executing")
	ErrAlreadyAllocated = errors.New("market already has an allocation")
	ErrLockHeld         = errors.New("lock already held")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrSigningFailed    = errors.New("signing failed")
	ErrInvalidOrder     = errors.New("invalid order")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
)
