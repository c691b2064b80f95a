package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-lp/pkg/types"
)

// SimClient is a dry-run stand-in for the live CLOB client. It serves a
// synthetic order book around an adjustable midpoint, records placed orders
// in memory, and never touches the network. Order IDs follow the
// "dry-<n>-<unix>" shape so logs make the mode obvious.
type SimClient struct {
	mu       sync.Mutex
	mid      float64                     // synthetic book midpoint
	spread   float64                     // synthetic book spread
	book     *types.BookResponse         // explicit book override, wins over mid/spread
	orders   map[string]*types.OpenOrder // order registry by ID
	seq      int                         // order ID counter
	failures int                         // number of calls left to fail
	logger   *slog.Logger
}

var _ Client = (*SimClient)(nil)

// NewSimClient creates a simulated client with a book centered at mid 0.50.
func NewSimClient(logger *slog.Logger) *SimClient {
	return &SimClient{
		mid:    0.50,
		spread: 0.02,
		orders: make(map[string]*types.OpenOrder),
		logger: logger,
	}
}

// Mode reports that this client only simulates execution.
func (s *SimClient) Mode() types.Mode {
	return types.ModeDryRun
}

// SetMidpoint moves the synthetic book's midpoint. The book is rebuilt
// around the new mid on the next GetOrderBook call.
func (s *SimClient) SetMidpoint(mid float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mid = mid
	s.book = nil
}

// SetBook installs an explicit book response, overriding the synthetic one.
func (s *SimClient) SetBook(book *types.BookResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book = book
}

// FailNext makes the next n client calls return an error. Used to exercise
// API failure handling.
func (s *SimClient) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// consumeFailure returns an error if fail injection is active.
// Caller must hold s.mu.
func (s *SimClient) consumeFailure(op string) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%s: simulated API failure", op)
	}
	return nil
}

// GetOrderBook returns the synthetic book. Five levels per side at 1¢
// steps with flat 100-share depth, enough for placement price selection.
func (s *SimClient) GetOrderBook(_ context.Context, _ string) (*types.BookResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("get book"); err != nil {
		return nil, err
	}
	if s.book != nil {
		return s.book, nil
	}

	half := s.spread / 2
	book := &types.BookResponse{}
	for i := 0; i < 5; i++ {
		bid := s.mid - half - float64(i)*0.01
		ask := s.mid + half + float64(i)*0.01
		if bid > 0 {
			book.Bids = append(book.Bids, types.PriceLevel{
				Price: fmt.Sprintf("%.3f", bid),
				Size:  "100",
			})
		}
		if ask < 1 {
			book.Asks = append(book.Asks, types.PriceLevel{
				Price: fmt.Sprintf("%.3f", ask),
				Size:  "100",
			})
		}
	}
	return book, nil
}

// PlaceOrder records a simulated order and returns its generated ID.
func (s *SimClient) PlaceOrder(_ context.Context, tokenID string, side types.Side, price, size float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("post order"); err != nil {
		return "", err
	}

	s.seq++
	id := fmt.Sprintf("dry-%d-%d", s.seq, time.Now().Unix())
	s.orders[id] = &types.OpenOrder{
		ID:           id,
		Status:       "LIVE",
		AssetID:      tokenID,
		Side:         string(side),
		OriginalSize: fmt.Sprintf("%.2f", size),
		SizeMatched:  "0",
		Price:        fmt.Sprintf("%.3f", price),
	}

	s.logger.Info("DRY-RUN: order placed",
		"order_id", id, "side", side, "price", price, "size", size)
	return id, nil
}

// Cancel marks a simulated order as cancelled. Unknown IDs are a no-op.
func (s *SimClient) Cancel(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("cancel order"); err != nil {
		return err
	}

	if o, ok := s.orders[orderID]; ok && o.Status == "LIVE" {
		o.Status = "CANCELED"
	}
	s.logger.Info("DRY-RUN: order cancelled", "order_id", orderID)
	return nil
}

// CancelAll cancels every live simulated order.
func (s *SimClient) CancelAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("cancel all"); err != nil {
		return err
	}

	n := 0
	for _, o := range s.orders {
		if o.Status == "LIVE" {
			o.Status = "CANCELED"
			n++
		}
	}
	s.logger.Info("DRY-RUN: all orders cancelled", "count", n)
	return nil
}

// GetOrderStatus returns the recorded order, or nil if unknown.
func (s *SimClient) GetOrderStatus(_ context.Context, orderID string) (*types.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("get order"); err != nil {
		return nil, err
	}

	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

// MarkMatched flips a simulated order to fully MATCHED. Used by the
// dry-run fill simulator and by tests.
func (s *SimClient) MarkMatched(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == "LIVE" {
		o.Status = "MATCHED"
		o.SizeMatched = o.OriginalSize
	}
}
