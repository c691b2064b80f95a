// Package market provides order book reading and market discovery.
//
// Reader fetches a fresh L2 book snapshot on demand and derives the values
// the farming engine needs: midpoint, spread, depth, reward-zone membership,
// and the recommended non-aggressive placement prices for both sides.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"polymarket-lp/internal/exchange"
	"polymarket-lp/pkg/types"
)

// Reader converts raw CLOB book responses into placement-ready snapshots.
type Reader struct {
	client    exchange.Client
	maxSpread float64 // reward zone half-width in price terms
	logger    *slog.Logger
}

// NewReader creates a book reader for the given client.
func NewReader(client exchange.Client, maxSpread float64, logger *slog.Logger) *Reader {
	return &Reader{
		client:    client,
		maxSpread: maxSpread,
		logger:    logger.With("component", "book"),
	}
}

// Snapshot fetches the book for a token and derives midpoint, spread, depth
// and recommended placement prices. Returns an error when either side of
// the book is empty; a one-sided book gives no usable midpoint.
func (r *Reader) Snapshot(ctx context.Context, tokenID string) (*types.BookSnapshot, error) {
	resp, err := r.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	bids := parseLevels(resp.Bids)
	asks := parseLevels(resp.Asks)

	// Defensive ordering: the API returns bids ascending at times.
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("order book one-sided: %d bids, %d asks", len(bids), len(asks))
	}

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	mid := (bestBid + bestAsk) / 2
	spread := bestAsk - bestBid

	snap := &types.BookSnapshot{
		Midpoint:         mid,
		Spread:           spread,
		BestBid:          bestBid,
		BestAsk:          bestAsk,
		Bids:             bids,
		Asks:             asks,
		BidDepth:         sumDepth(bids),
		AskDepth:         sumDepth(asks),
		WithinRewardZone: spread <= r.maxSpread*2,
		RecommendedBuy:   r.placementPrice(bids, mid, types.BUY),
		RecommendedSell:  r.placementPrice(asks, mid, types.SELL),
	}

	r.logger.Debug("book snapshot",
		"mid", snap.Midpoint,
		"spread", snap.Spread,
		"rec_buy", snap.RecommendedBuy,
		"rec_sell", snap.RecommendedSell,
	)
	return snap, nil
}

// placementPrice picks a non-aggressive resting price: join the third level
// on our side nudged 0.1¢ toward the mid, then clamp into the reward band.
// For BUY the band is [mid − maxSpread, mid − 0.005]; SELL mirrors it above
// the mid. Staying at least half a cent off the mid keeps the order from
// crossing on small mid moves.
func (r *Reader) placementPrice(levels []types.Level, mid float64, side types.Side) float64 {
	idx := 2
	if idx > len(levels)-1 {
		idx = len(levels) - 1
	}
	base := levels[idx].Price

	var price, lo, hi float64
	if side == types.BUY {
		price = base + 0.001
		lo, hi = mid-r.maxSpread, mid-0.005
	} else {
		price = base - 0.001
		lo, hi = mid+0.005, mid+r.maxSpread
	}

	price = math.Min(math.Max(price, lo), hi)
	return roundTick(price)
}

// roundTick rounds to the 0.001 sub-tick grid placement prices live on.
func roundTick(p float64) float64 {
	return math.Round(p*1000) / 1000
}

func parseLevels(raw []types.PriceLevel) []types.Level {
	out := make([]types.Level, 0, len(raw))
	for _, l := range raw {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		// A zero or negative level would sort to the top of the book and
		// poison the midpoint.
		if price <= 0 || size <= 0 {
			continue
		}
		out = append(out, types.Level{Price: price, Size: size})
	}
	return out
}

func sumDepth(levels []types.Level) float64 {
	var total float64
	for _, l := range levels {
		total += l.Size
	}
	return total
}
