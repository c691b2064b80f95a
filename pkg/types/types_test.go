package types

import "testing"

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if BUY.Opposite() != SELL {
		t.Error("BUY.Opposite() should be SELL")
	}
	if SELL.Opposite() != BUY {
		t.Error("SELL.Opposite() should be BUY")
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusOpen, StatusFilled, true},
		{StatusOpen, StatusPartial, true},
		{StatusOpen, StatusCancelled, true},
		{StatusPartial, StatusFilled, true},
		{StatusPartial, StatusCancelled, true},
		{StatusFilled, StatusOpen, false},
		{StatusCancelled, StatusOpen, false},
		{StatusFilled, StatusCancelled, false},
		{StatusPartial, StatusOpen, false},
		{StatusOpen, StatusOpen, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s → %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusWorking(t *testing.T) {
	t.Parallel()
	if !StatusOpen.Working() || !StatusPartial.Working() {
		t.Error("OPEN and PARTIAL should be working")
	}
	if StatusFilled.Working() || StatusCancelled.Working() {
		t.Error("FILLED and CANCELLED should not be working")
	}
}

func TestPositionMarkValue(t *testing.T) {
	t.Parallel()
	p := Position{YesShares: 100, NoShares: 50}
	// 100 × 0.60 + 50 × 0.40 = 80
	if got := p.MarkValue(0.60); got != 80 {
		t.Errorf("MarkValue(0.60) = %v, want 80", got)
	}
}

func TestOrderNotional(t *testing.T) {
	t.Parallel()
	o := Order{Price: 0.45, Size: 100}
	if got := o.Notional(); got != 45 {
		t.Errorf("Notional = %v, want 45", got)
	}
}
