// Package exchange implements the Polymarket CLOB clients.
//
// Two implementations of the Client interface exist:
//
//   - CLOBClient (live): REST client with rate limiting, retry and
//     L1/L2 authentication. Every mutating call reaches the exchange.
//   - SimClient (dry run): fully local, deterministic. Serves a synthetic
//     order book and fabricates order IDs so the rest of the bot runs the
//     exact same code paths without touching real capital.
//
// The order manager and book reader only ever see the interface; mode is
// selected once at construction, never branched on downstream.
package exchange

import (
	"context"

	"polymarket-lp/pkg/types"
)

// Client is the surface of the exchange the bot depends on.
type Client interface {
	// Mode reports whether this client simulates or trades for real.
	Mode() types.Mode

	// GetOrderBook fetches the L2 order book for a single token.
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)

	// PlaceOrder submits a GTC limit order and returns the exchange order ID.
	PlaceOrder(ctx context.Context, tokenID string, side types.Side, price, size float64) (string, error)

	// Cancel cancels a single order by ID.
	Cancel(ctx context.Context, orderID string) error

	// CancelAll cancels every open order owned by this account.
	CancelAll(ctx context.Context) error

	// GetOrderStatus fetches the current exchange-side state of an order.
	GetOrderStatus(ctx context.Context, orderID string) (*types.OpenOrder, error)
}
