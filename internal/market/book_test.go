package market

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"polymarket-lp/internal/exchange"
	"polymarket-lp/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bookResponse(bids, asks []string) *types.BookResponse {
	resp := &types.BookResponse{}
	for _, p := range bids {
		resp.Bids = append(resp.Bids, types.PriceLevel{Price: p, Size: "100"})
	}
	for _, p := range asks {
		resp.Asks = append(resp.Asks, types.PriceLevel{Price: p, Size: "100"})
	}
	return resp
}

func newTestReader(resp *types.BookResponse) *Reader {
	sim := exchange.NewSimClient(discardLogger())
	sim.SetBook(resp)
	return NewReader(sim, 0.04, discardLogger())
}

func TestSnapshotDerivesMidAndSpread(t *testing.T) {
	t.Parallel()
	r := newTestReader(bookResponse(
		[]string{"0.49", "0.48", "0.47", "0.46"},
		[]string{"0.51", "0.52", "0.53"},
	))

	snap, err := r.Snapshot(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(snap.Midpoint-0.50) > 1e-9 {
		t.Errorf("midpoint = %v, want 0.50", snap.Midpoint)
	}
	if math.Abs(snap.Spread-0.02) > 1e-9 {
		t.Errorf("spread = %v, want 0.02", snap.Spread)
	}
	if !snap.WithinRewardZone {
		t.Error("2¢ spread should be within the reward zone")
	}
	if snap.BidDepth != 400 || snap.AskDepth != 300 {
		t.Errorf("depth = %v/%v, want 400/300", snap.BidDepth, snap.AskDepth)
	}
}

func TestSnapshotRecommendedPricesJoinThirdLevel(t *testing.T) {
	t.Parallel()
	r := newTestReader(bookResponse(
		[]string{"0.49", "0.48", "0.47", "0.46"},
		[]string{"0.51", "0.52", "0.53"},
	))

	snap, err := r.Snapshot(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}

	// Third bid level 0.47 nudged up a tenth of a cent
	if math.Abs(snap.RecommendedBuy-0.471) > 1e-9 {
		t.Errorf("recommended buy = %v, want 0.471", snap.RecommendedBuy)
	}
	// Third ask level 0.53 nudged down a tenth of a cent
	if math.Abs(snap.RecommendedSell-0.529) > 1e-9 {
		t.Errorf("recommended sell = %v, want 0.529", snap.RecommendedSell)
	}
}

func TestSnapshotBuyStaysInsideRewardBand(t *testing.T) {
	t.Parallel()

	// Recommended buy must always land in [mid − maxSpread, mid − 0.005]
	books := [][2][]string{
		{{"0.49", "0.40", "0.30"}, {"0.51"}},          // deep third level clamps up
		{{"0.499", "0.498", "0.497"}, {"0.501"}},      // tight book clamps down
		{{"0.49"}, {"0.51", "0.52"}},                  // shallow book uses last level
		{{"0.49", "0.48", "0.47"}, {"0.51", "0.52"}},  // normal book
	}

	for _, b := range books {
		r := newTestReader(bookResponse(b[0], b[1]))
		snap, err := r.Snapshot(context.Background(), "tok")
		if err != nil {
			t.Fatal(err)
		}
		lo := snap.Midpoint - 0.04
		hi := snap.Midpoint - 0.005
		if snap.RecommendedBuy < lo-1e-9 || snap.RecommendedBuy > hi+1e-9 {
			t.Errorf("bids %v: recommended buy %v outside [%v, %v]",
				b[0], snap.RecommendedBuy, lo, hi)
		}
	}
}

func TestSnapshotClampsDeepThirdLevel(t *testing.T) {
	t.Parallel()
	r := newTestReader(bookResponse(
		[]string{"0.49", "0.40", "0.30"},
		[]string{"0.51"},
	))

	snap, err := r.Snapshot(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	// Third level at 0.30 is far below the band; clamp to mid − maxSpread
	if math.Abs(snap.RecommendedBuy-0.46) > 1e-9 {
		t.Errorf("recommended buy = %v, want 0.46", snap.RecommendedBuy)
	}
}

func TestSnapshotSortsUnorderedLevels(t *testing.T) {
	t.Parallel()
	r := newTestReader(bookResponse(
		[]string{"0.46", "0.48", "0.49", "0.47"},
		[]string{"0.53", "0.51", "0.52"},
	))

	snap, err := r.Snapshot(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if snap.BestBid != 0.49 || snap.BestAsk != 0.51 {
		t.Errorf("best bid/ask = %v/%v, want 0.49/0.51", snap.BestBid, snap.BestAsk)
	}
}

func TestSnapshotRejectsOneSidedBook(t *testing.T) {
	t.Parallel()
	r := newTestReader(bookResponse([]string{"0.49"}, nil))

	if _, err := r.Snapshot(context.Background(), "tok"); err == nil {
		t.Error("expected error for book with no asks")
	}
}

func TestSnapshotWideSpreadOutsideRewardZone(t *testing.T) {
	t.Parallel()
	r := newTestReader(bookResponse(
		[]string{"0.40"},
		[]string{"0.60"},
	))

	snap, err := r.Snapshot(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if snap.WithinRewardZone {
		t.Error("20¢ spread should be outside the reward zone")
	}
}

func TestSnapshotDropsNonPositiveLevels(t *testing.T) {
	t.Parallel()
	resp := &types.BookResponse{
		Bids: []types.PriceLevel{
			{Price: "0.49", Size: "100"},
			{Price: "0.48", Size: "0"}, // zero size
			{Price: "-0.10", Size: "100"},
		},
		Asks: []types.PriceLevel{
			{Price: "0", Size: "100"}, // would sort to best ask
			{Price: "0.51", Size: "100"},
			{Price: "0.52", Size: "100"},
		},
	}
	r := newTestReader(resp)

	snap, err := r.Snapshot(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if snap.BestAsk != 0.51 {
		t.Errorf("best ask = %v, want 0.51", snap.BestAsk)
	}
	if math.Abs(snap.Midpoint-0.50) > 1e-9 {
		t.Errorf("midpoint = %v, want 0.50", snap.Midpoint)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 2 {
		t.Errorf("levels kept = %d bids / %d asks, want 1/2", len(snap.Bids), len(snap.Asks))
	}
}
