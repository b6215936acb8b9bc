package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func limitSpec(side Side, qty, price string) OrderSpec {
	return OrderSpec{
		Symbol:   "BTCUSDT",
		Side:     side,
		Kind:     KindLimit,
		Quantity: dec(qty),
		Price:    decPtr(price),
	}
}

func mustOrder(t *testing.T, id string, spec OrderSpec) *Order {
	t.Helper()
	o, err := NewOrder(id, spec, t0)
	if err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}
	return o
}

func TestNewOrder_LimitBuy(t *testing.T) {
	o := mustOrder(t, "o-1", limitSpec(SideBuy, "1.0", "50000"))

	if o.Status != StatusOpen {
		t.Errorf("Expected OPEN, got %s", o.Status)
	}
	if !o.Filled.IsZero() {
		t.Errorf("Expected filled 0, got %s", o.Filled)
	}
	if !o.Remaining.Equal(dec("1")) {
		t.Errorf("Expected remaining 1.0, got %s", o.Remaining)
	}
	if !o.CreatedAt.Equal(t0) || !o.UpdatedAt.Equal(t0) {
		t.Errorf("Expected timestamps %v, got %v / %v", t0, o.CreatedAt, o.UpdatedAt)
	}
	if o.Version != 1 {
		t.Errorf("Expected version 1, got %d", o.Version)
	}
	if err := o.CheckInvariant(); err != nil {
		t.Errorf("Invariant violated: %v", err)
	}
}

func TestNewOrder_PriceIsCopied(t *testing.T) {
	spec := limitSpec(SideBuy, "1", "100")
	o := mustOrder(t, "o-1", spec)

	*spec.Price = dec("1")
	if !o.Price.Equal(dec("100")) {
		t.Errorf("Order price should not alias the spec, got %s", o.Price)
	}
}

func TestOrderSpec_Validate(t *testing.T) {
	tests := []struct {
		name  string
		spec  OrderSpec
		field string // empty when valid
	}{
		{"limit buy", limitSpec(SideBuy, "1", "50000"), ""},
		{"market sell without price", OrderSpec{Symbol: "BTCUSDT", Side: SideSell, Kind: KindMarket, Quantity: dec("0.5")}, ""},
		{"ioc with price", OrderSpec{Symbol: "ETHUSDT", Side: SideBuy, Kind: KindIOC, Quantity: dec("2"), Price: decPtr("3000")}, ""},
		{"empty symbol", OrderSpec{Symbol: "  ", Side: SideBuy, Kind: KindMarket, Quantity: dec("1")}, "symbol"},
		{"long symbol", OrderSpec{Symbol: "ABCDEFGHIJKLMNOPQRSTU", Side: SideBuy, Kind: KindMarket, Quantity: dec("1")}, "symbol"},
		{"unknown side", OrderSpec{Symbol: "BTCUSDT", Kind: KindMarket, Quantity: dec("1")}, "side"},
		{"unknown kind", OrderSpec{Symbol: "BTCUSDT", Side: SideBuy, Quantity: dec("1")}, "kind"},
		{"zero quantity", limitSpec(SideBuy, "0", "1"), "quantity"},
		{"negative quantity", limitSpec(SideBuy, "-1", "1"), "quantity"},
		{"quantity too precise", limitSpec(SideBuy, "0.000000001", "1"), "quantity"},
		{"limit without price", OrderSpec{Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit, Quantity: dec("1")}, "price"},
		{"ioc without price", OrderSpec{Symbol: "BTCUSDT", Side: SideBuy, Kind: KindIOC, Quantity: dec("1")}, "price"},
		{"market with price", OrderSpec{Symbol: "BTCUSDT", Side: SideSell, Kind: KindMarket, Quantity: dec("1"), Price: decPtr("1")}, "price"},
		{"zero price", limitSpec(SideBuy, "1", "0"), "price"},
		{"negative price", limitSpec(SideBuy, "1", "-5"), "price"},
		{"price too precise", limitSpec(SideBuy, "1", "1.123456789"), "price"},
		{"trailing zeros are fine", limitSpec(SideBuy, "1.0000000000", "2.50000000000"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected valid spec, got %v", err)
				}
				return
			}

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, ve.Field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("Expected error to match ErrValidation")
			}
		})
	}
}

func TestOrder_ApplyFill(t *testing.T) {
	t.Run("partial then full", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1.0", "50000"))

		if err := o.ApplyFill(dec("0.4"), t0.Add(time.Second)); err != nil {
			t.Fatalf("ApplyFill failed: %v", err)
		}
		if o.Status != StatusPartiallyFilled {
			t.Errorf("Expected PARTIALLY_FILLED, got %s", o.Status)
		}
		if !o.Filled.Equal(dec("0.4")) || !o.Remaining.Equal(dec("0.6")) {
			t.Errorf("Expected 0.4/0.6, got %s/%s", o.Filled, o.Remaining)
		}
		if !o.UpdatedAt.Equal(t0.Add(time.Second)) {
			t.Errorf("Expected UpdatedAt refreshed, got %v", o.UpdatedAt)
		}

		if err := o.ApplyFill(dec("0.6"), t0.Add(2*time.Second)); err != nil {
			t.Fatalf("ApplyFill failed: %v", err)
		}
		if o.Status != StatusFilled {
			t.Errorf("Expected FILLED, got %s", o.Status)
		}
		if !o.Remaining.IsZero() {
			t.Errorf("Expected remaining 0, got %s", o.Remaining)
		}
		if err := o.CheckInvariant(); err != nil {
			t.Errorf("Invariant violated: %v", err)
		}
	})

	t.Run("overfill is a consistency error", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1.0", "50000"))
		_ = o.ApplyFill(dec("0.4"), t0)
		before := *o

		err := o.ApplyFill(dec("0.7"), t0.Add(time.Second))
		if !errors.Is(err, ErrConsistency) {
			t.Fatalf("Expected ErrConsistency, got %v", err)
		}
		if !o.Filled.Equal(before.Filled) || !o.Remaining.Equal(before.Remaining) || o.Status != before.Status {
			t.Error("Order must not change on a rejected fill")
		}
		if !o.UpdatedAt.Equal(before.UpdatedAt) {
			t.Error("UpdatedAt must not change on a rejected fill")
		}
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideSell, "1", "1"))
		for _, q := range []string{"0", "-0.1"} {
			if err := o.ApplyFill(dec(q), t0); !errors.Is(err, ErrConsistency) {
				t.Errorf("ApplyFill(%s): expected ErrConsistency, got %v", q, err)
			}
		}
	})

	t.Run("quantity finer than the order scale", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1", "1"))
		if err := o.ApplyFill(dec("0.000000001"), t0); !errors.Is(err, ErrConsistency) {
			t.Fatalf("Expected ErrConsistency, got %v", err)
		}
		if !o.Remaining.Equal(dec("1")) || o.Status != StatusOpen {
			t.Errorf("Order must not change, got %s %s", o.Status, o.Remaining)
		}
		if err := o.ApplyFill(dec("0.00000001"), t0); err != nil {
			t.Errorf("Expected 8 decimal places to be accepted, got %v", err)
		}
	})

	t.Run("replay after exhaustion is rejected", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideSell, "1", "1"))
		if err := o.ApplyFill(dec("1"), t0); err != nil {
			t.Fatalf("ApplyFill failed: %v", err)
		}
		if err := o.ApplyFill(dec("1"), t0); !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("cancelled order cannot be filled", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideSell, "1", "1"))
		_ = o.Cancel(t0)
		if err := o.ApplyFill(dec("0.1"), t0); !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})
}

func TestOrder_Cancel(t *testing.T) {
	t.Run("open order", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1", "1"))
		if err := o.Cancel(t0.Add(time.Minute)); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if o.Status != StatusCancelled {
			t.Errorf("Expected CANCELLED, got %s", o.Status)
		}
		if !o.UpdatedAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("Expected UpdatedAt refreshed, got %v", o.UpdatedAt)
		}
	})

	t.Run("remaining is frozen", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1", "1"))
		_ = o.ApplyFill(dec("0.25"), t0)
		if err := o.Cancel(t0); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if !o.Filled.Equal(dec("0.25")) || !o.Remaining.Equal(dec("0.75")) {
			t.Errorf("Expected 0.25/0.75 after cancel, got %s/%s", o.Filled, o.Remaining)
		}
		if err := o.CheckInvariant(); err != nil {
			t.Errorf("Invariant violated: %v", err)
		}
	})

	t.Run("twice", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1", "1"))
		_ = o.Cancel(t0)
		before := *o
		if err := o.Cancel(t0.Add(time.Hour)); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("Expected ErrInvalidStateTransition, got %v", err)
		}
		if !o.Remaining.Equal(before.Remaining) || !o.UpdatedAt.Equal(before.UpdatedAt) {
			t.Error("Second cancel must not change the order")
		}
	})

	t.Run("filled order", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1", "1"))
		_ = o.ApplyFill(dec("1"), t0)
		if err := o.Cancel(t0); !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("rejected order", func(t *testing.T) {
		o := mustOrder(t, "o-1", limitSpec(SideBuy, "1", "1"))
		o.Status = StatusRejected
		if err := o.Cancel(t0); !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
		}
	})
}

func TestStatus_Transitions(t *testing.T) {
	all := []Status{StatusOpen, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			if from.IsTerminal() && got {
				t.Errorf("%s is terminal but allows -> %s", from, to)
			}
			if to == StatusRejected && got {
				t.Errorf("REJECTED must not be reachable from %s", from)
			}
			if to == StatusOpen && got {
				t.Errorf("OPEN must not be re-entered from %s", from)
			}
		}
	}

	if !StatusOpen.CanTransitionTo(StatusCancelled) || !StatusPartiallyFilled.CanTransitionTo(StatusCancelled) {
		t.Error("OPEN and PARTIALLY_FILLED must be cancellable")
	}
}

func TestParseEnums(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseStatus("pending"); err == nil {
		t.Error("Expected error for unknown status")
	}

	if k, _ := ParseKind("immediate_or_cancel"); k != KindIOC {
		t.Errorf("Expected IOC, got %s", k)
	}
	if s, _ := ParseSide("sell"); s != SideSell {
		t.Errorf("Expected SELL, got %s", s)
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite side mismatch")
	}
}

func TestCheckInvariant_DetectsCorruption(t *testing.T) {
	o := mustOrder(t, "o-1", limitSpec(SideBuy, "1", "1"))

	o.Remaining = dec("0.9")
	if err := o.CheckInvariant(); err == nil {
		t.Error("Expected sum violation")
	}

	o = mustOrder(t, "o-2", limitSpec(SideBuy, "1", "1"))
	o.Status = StatusFilled
	if err := o.CheckInvariant(); err == nil {
		t.Error("Expected FILLED with remaining to be reported")
	}
}
