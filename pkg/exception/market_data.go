package exception

import "errors"

var (
	ErrInvalidMarketDataRequest = errors.New("market data: invalid request")
	ErrMarketDataUnavailable    = errors.New("market data: no bars for symbol")
	ErrPriceUnavailable         = errors.New("market data: no price for symbol")
)
