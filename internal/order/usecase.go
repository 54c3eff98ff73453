// Package order submits corrective orders to the order-execution boundary.
package order

import (
	"context"
	"strings"

	xerrors "providence/internal/errors"
	"providence/internal/model/enum"
	"providence/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// Request is one order for the execution boundary.
type Request struct {
	Symbol        string          `json:"symbol"`
	Side          enum.OrderSide  `json:"side"`
	Size          decimal.Decimal `json:"size"`
	Type          enum.OrderType  `json:"type"`
	ClientOrderID string          `json:"client_order_id"`
}

// Response is the boundary's verdict.
type Response struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

// Delegator sends a request to one execution venue.
type Delegator interface {
	Send(context.Context, Request) (Response, error)
}

// Usecase validates and submits orders through a Delegator.
type Usecase struct {
	delegator Delegator
	precision int32
}

// NewUsecase creates a Usecase rounding sizes to precision decimal places.
func NewUsecase(delegator Delegator, precision int32) *Usecase {
	return &Usecase{delegator: delegator, precision: precision}
}

// MarketOrder builds a market request closing the signed gap.
func (use *Usecase) MarketOrder(symbol string, gap float64) Request {
	return Request{
		Symbol:        symbol,
		Side:          enum.SideOf(gap),
		Size:          decimal.NewFromFloat(gap).Abs().Round(use.precision),
		Type:          enum.OrderTypeMarket,
		ClientOrderID: uuid.NewString(),
	}
}

// Submit sends req. A response with Accepted=false returns an error wrapping
// exception.ErrOrderRejected along with the response.
func (use *Usecase) Submit(ctx context.Context, req Request) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}

	res, err := use.delegator.Send(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if !res.Accepted {
		logs.Warnf("order: rejected symbol=%s side=%s size=%s client_order_id=%s reason=%s",
			req.Symbol, req.Side, req.Size, req.ClientOrderID, res.Reason)
		return res, xerrors.Wrap(exception.ErrOrderRejected, res.Reason)
	}

	logs.Infof("order: accepted symbol=%s side=%s size=%s client_order_id=%s order_id=%s",
		req.Symbol, req.Side, req.Size, req.ClientOrderID, res.OrderID)
	return res, nil
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Symbol) == "":
		return xerrors.Wrap(exception.ErrOrderInvalidRequest, "empty symbol")
	case req.Side != enum.OrderSideBuy && req.Side != enum.OrderSideSell:
		return xerrors.Wrap(exception.ErrOrderInvalidRequest, "side "+string(req.Side))
	case !req.Size.IsPositive():
		return xerrors.Wrap(exception.ErrOrderInvalidRequest, "size "+req.Size.String())
	case req.Type != enum.OrderTypeMarket:
		return exception.ErrOrderUnsupportedType
	}
	return nil
}
