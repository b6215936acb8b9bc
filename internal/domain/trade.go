package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one execution between a buy and a sell order.
type Trade struct {
	ID          string
	BuyOrderID  string
	SellOrderID string
	Symbol      string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	ExecutedAt  time.Time
}

// NewTrade links two orders that were just filled by qty at price.
func NewTrade(id string, buy, sell *Order, qty, price decimal.Decimal, now time.Time) (*Trade, error) {
	switch {
	case buy.ID == sell.ID:
		return nil, NewConsistencyError(buy.ID, "order cannot trade against itself")
	case buy.Side != SideBuy:
		return nil, NewConsistencyError(buy.ID, "buy leg has side %s", buy.Side)
	case sell.Side != SideSell:
		return nil, NewConsistencyError(sell.ID, "sell leg has side %s", sell.Side)
	case buy.Symbol != sell.Symbol:
		return nil, NewConsistencyError(buy.ID, "symbol %s does not match counterpart %s (%s)", buy.Symbol, sell.ID, sell.Symbol)
	case !qty.IsPositive():
		return nil, NewConsistencyError(buy.ID, "trade quantity %s must be positive", qty)
	case !price.IsPositive():
		return nil, NewConsistencyError(buy.ID, "trade price %s must be positive", price)
	case !fitsScale(qty) || !fitsScale(price):
		return nil, NewConsistencyError(buy.ID, "trade %s @ %s has more than %d decimal places", qty, price, QuantityScale)
	}

	return &Trade{
		ID:          id,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Symbol:      buy.Symbol,
		Price:       price,
		Quantity:    qty,
		ExecutedAt:  Timestamp(now),
	}, nil
}

// Involves reports whether orderID is one of the two legs.
func (t *Trade) Involves(orderID string) bool {
	return t.BuyOrderID == orderID || t.SellOrderID == orderID
}
