package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Field limits mirror the column widths of the orders table.
const (
	MaxSymbolLen        = 20
	MaxOwnerIDLen       = 50
	MaxClientOrderIDLen = 100

	// QuantityScale is the number of decimal places kept for prices and quantities.
	QuantityScale = 8
)

// OrderSpec is a submission request. It carries no identity.
type OrderSpec struct {
	Symbol        string
	Side          Side
	Kind          Kind
	Quantity      decimal.Decimal
	Price         *decimal.Decimal // nil for MARKET
	OwnerID       string
	ClientOrderID string
}

// Validate checks a submission before any identity is assigned.
// A MARKET order that carries a price is rejected rather than silently ignored.
func (s OrderSpec) Validate() error {
	symbol := strings.TrimSpace(s.Symbol)
	if symbol == "" {
		return invalid("symbol", "must not be empty")
	}
	if utf8.RuneCountInString(symbol) > MaxSymbolLen {
		return invalid("symbol", "longer than %d characters", MaxSymbolLen)
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return invalid("side", "must be BUY or SELL")
	}
	if s.Kind != KindLimit && s.Kind != KindMarket && s.Kind != KindIOC {
		return invalid("kind", "must be LIMIT, MARKET or IOC")
	}
	if !s.Quantity.IsPositive() {
		return invalid("quantity", "must be greater than zero")
	}
	if !fitsScale(s.Quantity) {
		return invalid("quantity", "at most %d decimal places", QuantityScale)
	}

	switch {
	case s.Kind.RequiresPrice() && s.Price == nil:
		return invalid("price", "required for %s orders", s.Kind)
	case !s.Kind.RequiresPrice() && s.Price != nil:
		return invalid("price", "must be omitted for %s orders", s.Kind)
	case s.Price != nil && !s.Price.IsPositive():
		return invalid("price", "must be greater than zero")
	case s.Price != nil && !fitsScale(*s.Price):
		return invalid("price", "at most %d decimal places", QuantityScale)
	}

	if utf8.RuneCountInString(s.OwnerID) > MaxOwnerIDLen {
		return invalid("owner_id", "longer than %d characters", MaxOwnerIDLen)
	}
	if utf8.RuneCountInString(s.ClientOrderID) > MaxClientOrderIDLen {
		return invalid("client_order_id", "longer than %d characters", MaxClientOrderIDLen)
	}
	return nil
}

func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(QuantityScale))
}

// Order is a standing instruction to buy or sell.
// Quantities are only changed through ApplyFill and Cancel.
type Order struct {
	ID            string
	Symbol        string
	Side          Side
	Kind          Kind
	Price         *decimal.Decimal
	Quantity      decimal.Decimal // total, fixed at creation
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	Status        Status
	OwnerID       string
	ClientOrderID string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Version is the optimistic concurrency token, bumped by every stored mutation.
	Version uint64
}

// NewOrder validates spec and builds an OPEN order.
func NewOrder(id string, spec OrderSpec, now time.Time) (*Order, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	now = Timestamp(now)

	var price *decimal.Decimal
	if spec.Price != nil {
		p := *spec.Price
		price = &p
	}

	return &Order{
		ID:            id,
		Symbol:        strings.TrimSpace(spec.Symbol),
		Side:          spec.Side,
		Kind:          spec.Kind,
		Price:         price,
		Quantity:      spec.Quantity,
		Filled:        decimal.Zero,
		Remaining:     spec.Quantity,
		Status:        StatusOpen,
		OwnerID:       spec.OwnerID,
		ClientOrderID: spec.ClientOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// Timestamp normalises t to UTC microseconds, the precision kept in storage.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ApplyFill records an execution of delta against the order.
// On error the order is left untouched.
func (o *Order) ApplyFill(delta decimal.Decimal, now time.Time) error {
	if !o.Status.IsFillable() {
		return NewStateError(o.ID, "cannot fill order in status %s", o.Status)
	}
	if !delta.IsPositive() {
		return NewConsistencyError(o.ID, "fill quantity %s must be positive", delta)
	}
	if !fitsScale(delta) {
		return NewConsistencyError(o.ID, "fill quantity %s has more than %d decimal places", delta, QuantityScale)
	}
	if delta.GreaterThan(o.Remaining) {
		return NewConsistencyError(o.ID, "fill quantity %s exceeds remaining %s", delta, o.Remaining)
	}

	filled := o.Filled.Add(delta)
	remaining := o.Remaining.Sub(delta)

	next := StatusPartiallyFilled
	if remaining.IsZero() {
		next = StatusFilled
	}
	if err := o.transition(next); err != nil {
		return err
	}

	o.Filled = filled
	o.Remaining = remaining
	o.UpdatedAt = Timestamp(now)
	return nil
}

// Cancel moves the order to CANCELLED. Remaining is frozen as the record of
// what was never executed.
func (o *Order) Cancel(now time.Time) error {
	if !o.Status.IsCancellable() {
		return NewStateError(o.ID, "cannot cancel order in status %s", o.Status)
	}
	if err := o.transition(StatusCancelled); err != nil {
		return err
	}
	o.UpdatedAt = Timestamp(now)
	return nil
}

func (o *Order) transition(next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return NewStateError(o.ID, "transition %s -> %s not allowed", o.Status, next)
	}
	o.Status = next
	return nil
}

// CheckInvariant verifies the quantity and status invariants of the order.
func (o *Order) CheckInvariant() error {
	if o.Filled.IsNegative() || o.Remaining.IsNegative() {
		return fmt.Errorf("order %s: negative quantity (filled=%s remaining=%s)", o.ID, o.Filled, o.Remaining)
	}
	if !o.Filled.Add(o.Remaining).Equal(o.Quantity) {
		return fmt.Errorf("order %s: filled %s + remaining %s != total %s", o.ID, o.Filled, o.Remaining, o.Quantity)
	}

	switch o.Status {
	case StatusOpen:
		if !o.Filled.IsZero() {
			return fmt.Errorf("order %s: OPEN with filled %s", o.ID, o.Filled)
		}
	case StatusPartiallyFilled:
		if !o.Filled.IsPositive() || !o.Remaining.IsPositive() {
			return fmt.Errorf("order %s: PARTIALLY_FILLED with filled=%s remaining=%s", o.ID, o.Filled, o.Remaining)
		}
	case StatusFilled:
		if !o.Remaining.IsZero() || !o.Filled.IsPositive() {
			return fmt.Errorf("order %s: FILLED with filled=%s remaining=%s", o.ID, o.Filled, o.Remaining)
		}
	case StatusCancelled, StatusRejected:
	default:
		return fmt.Errorf("order %s: unknown status %d", o.ID, o.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	return &c
}
