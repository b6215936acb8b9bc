package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Random sequences of fills and cancels never break the quantity/status invariants.
func TestProperty_FillSequencesPreserveInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		totalUnits := rapid.Int64Range(1, 1_000_000).Draw(t, "totalUnits")
		total := decimal.New(totalUnits, -QuantityScale)

		o, err := NewOrder("o-prop", OrderSpec{
			Symbol:   "BTCUSDT",
			Side:     SideBuy,
			Kind:     KindLimit,
			Quantity: total,
			Price:    decPtr("100"),
		}, t0)
		if err != nil {
			t.Fatalf("NewOrder failed: %v", err)
		}

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		fills := 0
		for i := 0; i < steps; i++ {
			now := t0.Add(time.Duration(i+1) * time.Second)
			before := *o

			if rapid.IntRange(0, 9).Draw(t, "op") == 0 {
				err := o.Cancel(now)
				if before.Status.IsCancellable() != (err == nil) {
					t.Fatalf("Cancel from %s returned %v", before.Status, err)
				}
			} else {
				units := rapid.Int64Range(-1, totalUnits+1).Draw(t, "units")
				delta := decimal.New(units, -QuantityScale)
				err := o.ApplyFill(delta, now)

				legal := before.Status.IsFillable() && delta.IsPositive() && !delta.GreaterThan(before.Remaining)
				if legal != (err == nil) {
					t.Fatalf("ApplyFill(%s) from %s remaining=%s returned %v", delta, before.Status, before.Remaining, err)
				}
				if err == nil {
					fills++
				} else if !errors.Is(err, ErrConsistency) && !errors.Is(err, ErrInvalidStateTransition) {
					t.Fatalf("Unexpected error kind: %v", err)
				}
			}

			if err := o.CheckInvariant(); err != nil {
				t.Fatalf("Invariant violated after step %d: %v", i, err)
			}
			if o.Filled.LessThan(before.Filled) {
				t.Fatalf("Filled decreased: %s -> %s", before.Filled, o.Filled)
			}
			if before.Status.IsTerminal() && (o.Status != before.Status || !o.Remaining.Equal(before.Remaining)) {
				t.Fatalf("Terminal order mutated: %+v -> %+v", before, *o)
			}
		}

		if o.Status == StatusFilled && fills == 0 {
			t.Fatal("FILLED without any fill")
		}
		if o.Status == StatusOpen && !o.Filled.IsZero() {
			t.Fatal("OPEN with a filled quantity")
		}
	})
}
