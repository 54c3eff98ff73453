package exception

import "errors"

var (
	ErrOrderInvalidRequest     = errors.New("order: invalid request")
	ErrOrderUnsupportedType    = errors.New("order: unsupported type")
	ErrOrderRejected           = errors.New("order: rejected by gateway")
	ErrOrderDecodeResponseBody = errors.New("order: decode response body")
	ErrOrderGatewayUnavailable = errors.New("order: gateway unavailable")
)
