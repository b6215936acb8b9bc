package domain

import (
	"context"
	"time"
)

// Paging defaults for the query paths.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Repository is the persistence boundary for orders and trades.
// Implementations must be safe for concurrent use.
type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetTrade(ctx context.Context, id string) (*Trade, error)
	ListOrders(ctx context.Context, filter OrderFilter) (Page[*Order], error)
	ListTrades(ctx context.Context, filter TradeFilter) (Page[*Trade], error)

	// RunInTx runs fn in a single transaction. Any error from fn rolls back
	// every write made through the UnitOfWork.
	RunInTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// UnitOfWork is the write side of one transaction.
type UnitOfWork interface {
	// LockOrders loads and locks the given orders in ascending id order.
	// Unknown ids are absent from the result.
	LockOrders(ctx context.Context, ids ...string) (map[string]*Order, error)

	// UpdateOrder persists quantities and status if the stored version still
	// equals order.Version, then bumps order.Version. Fails with ErrConflict otherwise.
	UpdateOrder(ctx context.Context, order *Order) error

	CreateTrade(ctx context.Context, trade *Trade) error
}

// OrderFilter selects orders. Zero values mean "any".
type OrderFilter struct {
	Symbol   string
	OwnerID  string
	Statuses []Status
	From     time.Time // inclusive, on creation time
	To       time.Time // inclusive
	Limit    int
	Offset   int

	// Ascending returns oldest first; the default is newest first.
	Ascending bool
}

// TradeFilter selects trades. Zero values mean "any".
type TradeFilter struct {
	Symbol    string
	OrderID   string // either leg
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
	Ascending bool
}

// Page is one slice of an ordered result set.
type Page[T any] struct {
	Items  []T
	Total  int64
	Limit  int
	Offset int
}

// NormalizePage applies paging defaults and rejects out-of-range values.
func NormalizePage(limit, offset int) (int, int, error) {
	switch {
	case limit < 0 || limit > MaxPageLimit:
		return 0, 0, invalid("limit", "must be between 1 and %d", MaxPageLimit)
	case offset < 0:
		return 0, 0, invalid("offset", "must not be negative")
	case limit == 0:
		limit = DefaultPageLimit
	}
	return limit, offset, nil
}

// CheckRange rejects an inverted time range.
func CheckRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return invalid("from", "must not be after to")
	}
	return nil
}
