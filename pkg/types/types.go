// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — orders, positions,
// market metadata, book snapshots, and the CLOB wire formats. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"math/big"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side. Flipping after a fill is the core
// mechanic that keeps the strategy inventory-neutral over time.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// Mode selects between simulated and real order flow.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// OrderStatus is the lifecycle state of an order. Transitions are
// monotonic: OPEN → PARTIAL → {FILLED, CANCELLED}, never reversed.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// rank orders statuses along the lifecycle so transitions can be checked.
func (s OrderStatus) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusPartial:
		return 1
	case StatusFilled, StatusCancelled:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the
// monotonic lifecycle. Terminal states accept no further transitions.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return false
	}
	return s.rank() >= 0 && next.rank() > s.rank()
}

// Working reports whether the order can still fill on the exchange.
func (s OrderStatus) Working() bool {
	return s == StatusOpen || s == StatusPartial
}

// ————————————————————————————————————————————————————————————————————————
// Domain records
// ————————————————————————————————————————————————————————————————————————

// Order is a single resting limit order tracked by the order manager.
// Orders are never deleted, only status-transitioned.
type Order struct {
	ID         string      `json:"id"`
	TokenID    string      `json:"token_id"`
	Side       Side        `json:"side"`
	Price      float64     `json:"price"`
	Size       float64     `json:"size"`
	Status     OrderStatus `json:"status"`
	PlacedAt   time.Time   `json:"placed_at"`
	FilledAt   time.Time   `json:"filled_at,omitempty"`
	FillAmount float64     `json:"fill_amount,omitempty"`
}

// Notional returns the USDC value committed by the order.
func (o Order) Notional() float64 {
	return o.Price * o.Size
}

// Position tracks shares accumulated over a farming session. Both sides
// consume capital until resolution, so TotalCost accumulates
// fill_size × fill_price regardless of side.
type Position struct {
	YesShares    float64   `json:"yes_shares"`
	NoShares     float64   `json:"no_shares"`
	YesCost      float64   `json:"yes_cost"` // cost basis of the YES side
	NoCost       float64   `json:"no_cost"`  // cost basis of the NO side
	TotalCost    float64   `json:"total_cost"`
	TotalFills   int       `json:"total_fills"`
	SessionStart time.Time `json:"session_start"`
}

// MarkValue returns the mark-to-market value of the held shares at the
// given YES midpoint. A NO share is worth (1 − mid).
func (p Position) MarkValue(mid float64) float64 {
	return p.YesShares*mid + p.NoShares*(1-mid)
}

// MarketRef identifies the binary market being farmed. Supplied by a
// MarketPicker; the engine never selects markets itself.
type MarketRef struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	ConditionID string    `json:"condition_id"`
	YesTokenID  string    `json:"yes_token_id"`
	NoTokenID   string    `json:"no_token_id"`
	EndDate     time.Time `json:"end_date"`
}

// Level is a parsed order book level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is a point-in-time view of one token's order book with the
// placement prices already computed. Ephemeral — recomputed every tick,
// never persisted.
type BookSnapshot struct {
	Midpoint         float64
	Spread           float64
	BestBid          float64
	BestAsk          float64
	RecommendedBuy   float64 // non-aggressive BUY placement inside the reward zone
	RecommendedSell  float64 // mirrored SELL placement
	WithinRewardZone bool    // spread ≤ 2 × maxSpread
	Bids             []Level // sorted descending (best bid first)
	Asks             []Level // sorted ascending (best ask first)
	BidDepth         float64 // Σ size on the bid side
	AskDepth         float64
}

// ————————————————————————————————————————————————————————————————————————
// CLOB wire formats
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level as the CLOB API returns it.
// Price and Size are strings to preserve decimal precision on the wire.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	Timestamp string       `json:"timestamp"`
	TickSize  string       `json:"tick_size"`
	NegRisk   bool         `json:"neg_risk"`
}

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   *big.Int      `json:"makerAmount"`
	TakerAmount   *big.Int      `json:"takerAmount"`
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	FeeRateBps    string        `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
	Signature     string        `json:"signature"`
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType string      `json:"orderType"` // GTC
}

// OrderResponse is the REST API response for POST /order.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB as returned by
// GET /data/order/{id}.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "LIVE", "MATCHED", "CANCELED"
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// CancelResponse is returned by DELETE /order, /cancel-all.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events (user channel)
// ————————————————————————————————————————————————————————————————————————

// WSTradeEvent is a fill notification from the user WS channel.
// Received when one of our orders gets matched against a taker.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`
	Market    string `json:"market"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Outcome   string `json:"outcome"`
	Timestamp string `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
type WSOrderEvent struct {
	EventType   string `json:"event_type"` // always "order"
	ID          string `json:"id"`
	Market      string `json:"market"`
	AssetID     string `json:"asset_id"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	SizeMatched string `json:"size_matched"`
	Type        string `json:"type"` // "PLACEMENT", "UPDATE", "CANCELLATION"
	Timestamp   string `json:"timestamp"`
}

// WSSubscribeMsg is the initial subscription message for the user channel.
type WSSubscribeMsg struct {
	Auth    *WSAuth  `json:"auth,omitempty"`
	Type    string   `json:"type"`
	Markets []string `json:"markets,omitempty"` // condition IDs
}

// WSAuth contains the L2 API credentials for the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
