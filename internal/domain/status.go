package domain

import (
	"fmt"
	"strings"
)

// Side is the direction of an order.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the counterpart side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return SideUnknown, fmt.Errorf("unknown side %q", v)
	}
}

// Kind is the order type.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLimit
	KindMarket
	KindIOC // Immediate-or-cancel
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "LIMIT"
	case KindMarket:
		return "MARKET"
	case KindIOC:
		return "IOC"
	default:
		return "UNKNOWN"
	}
}

// RequiresPrice reports whether orders of this kind must carry a limit price.
func (k Kind) RequiresPrice() bool {
	return k == KindLimit || k == KindIOC
}

// ParseKind accepts LIMIT, MARKET, IOC and IMMEDIATE_OR_CANCEL in any case.
func ParseKind(v string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LIMIT":
		return KindLimit, nil
	case "MARKET":
		return KindMarket, nil
	case "IOC", "IMMEDIATE_OR_CANCEL":
		return KindIOC, nil
	default:
		return KindUnknown, fmt.Errorf("unknown order kind %q", v)
	}
}

// Status is the lifecycle state of an order.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusOpen
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus is the inverse of Status.String (case-insensitive).
func ParseStatus(v string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "OPEN":
		return StatusOpen, nil
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled, nil
	case "FILLED":
		return StatusFilled, nil
	case "CANCELLED", "CANCELED":
		return StatusCancelled, nil
	case "REJECTED":
		return StatusRejected, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown order status %q", v)
	}
}

// IsTerminal reports whether no further mutation is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// IsFillable reports whether the order can receive executions.
func (s Status) IsFillable() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// IsCancellable reports whether a cancel request can be honoured.
func (s Status) IsCancellable() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// transitions is the complete order state machine. REJECTED has no inbound
// edge: it is only ever assigned at creation time.
var transitions = map[Status][]Status{
	StatusOpen:            {StatusPartiallyFilled, StatusFilled, StatusCancelled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OpenStatuses lists the states in which an order still rests on the venue.
func OpenStatuses() []Status {
	return []Status{StatusOpen, StatusPartiallyFilled}
}
