package api

import (
	"time"

	"vexchange/internal/domain"
	"vexchange/internal/service"

	"github.com/shopspring/decimal"
)

// Decimals are encoded as JSON strings so clients never see float rounding.

type CreateOrderReq struct {
	Symbol        string           `json:"symbol" binding:"required"`
	Side          string           `json:"side" binding:"required"`
	OrderType     string           `json:"order_type" binding:"required"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         *decimal.Decimal `json:"price"`
	UserID        string           `json:"user_id"`
	ClientOrderID string           `json:"client_order_id"`
}

func (r CreateOrderReq) toSpec() (domain.OrderSpec, error) {
	side, err := domain.ParseSide(r.Side)
	if err != nil {
		return domain.OrderSpec{}, &domain.ValidationError{Field: "side", Err: err}
	}
	kind, err := domain.ParseKind(r.OrderType)
	if err != nil {
		return domain.OrderSpec{}, &domain.ValidationError{Field: "order_type", Err: err}
	}
	return domain.OrderSpec{
		Symbol:        r.Symbol,
		Side:          side,
		Kind:          kind,
		Quantity:      r.Quantity,
		Price:         r.Price,
		OwnerID:       r.UserID,
		ClientOrderID: r.ClientOrderID,
	}, nil
}

type CancelOrderReq struct {
	UserID string `json:"user_id"`
}

type ApplyFillReq struct {
	OrderID            string          `json:"order_id" binding:"required"`
	CounterpartOrderID string          `json:"counterpart_order_id" binding:"required"`
	Quantity           decimal.Decimal `json:"quantity"`
	Price              decimal.Decimal `json:"price"`
}

type OrderResp struct {
	ID                string           `json:"id"`
	Symbol            string           `json:"symbol"`
	Side              string           `json:"side"`
	OrderType         string           `json:"order_type"`
	Price             *decimal.Decimal `json:"price"`
	Quantity          decimal.Decimal  `json:"quantity"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal  `json:"remaining_quantity"`
	Status            string           `json:"status"`
	UserID            string           `json:"user_id,omitempty"`
	ClientOrderID     string           `json:"client_order_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func toOrderResp(o *domain.Order) OrderResp {
	return OrderResp{
		ID:                o.ID,
		Symbol:            o.Symbol,
		Side:              o.Side.String(),
		OrderType:         o.Kind.String(),
		Price:             o.Price,
		Quantity:          o.Quantity,
		FilledQuantity:    o.Filled,
		RemainingQuantity: o.Remaining,
		Status:            o.Status.String(),
		UserID:            o.OwnerID,
		ClientOrderID:     o.ClientOrderID,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

type TradeResp struct {
	ID          string          `json:"id"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

func toTradeResp(t *domain.Trade) TradeResp {
	return TradeResp{
		ID:          t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Symbol:      t.Symbol,
		Price:       t.Price,
		Quantity:    t.Quantity,
		ExecutedAt:  t.ExecutedAt,
	}
}

type CancelOrderResp struct {
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	CancelledAt time.Time `json:"cancelled_at"`
	Message     string    `json:"message"`
}

type FillResp struct {
	BuyOrder  OrderResp `json:"buy_order"`
	SellOrder OrderResp `json:"sell_order"`
	Trade     TradeResp `json:"trade"`
}

func toFillResp(r *service.FillResult) FillResp {
	return FillResp{
		BuyOrder:  toOrderResp(r.Buy),
		SellOrder: toOrderResp(r.Sell),
		Trade:     toTradeResp(r.Trade),
	}
}

type OrderListResp struct {
	Orders []OrderResp `json:"orders"`
	Total  int64       `json:"total"`
	Page   int         `json:"page"`
	Size   int         `json:"size"`
}

type TradeListResp struct {
	Trades []TradeResp `json:"trades"`
	Total  int64       `json:"total"`
	Page   int         `json:"page"`
	Size   int         `json:"size"`
}

// pageNumber is the 1-based page index of offset.
func pageNumber(limit, offset int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}

type ErrorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}
