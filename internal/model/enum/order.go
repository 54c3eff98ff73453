package enum

// OrderSide is the side of a corrective order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideOf returns the side closing a signed gap.
func SideOf(gap float64) OrderSide {
	if gap < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)
