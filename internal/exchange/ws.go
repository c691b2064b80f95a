// ws.go implements the authenticated user WebSocket feed.
//
// The user channel subscribes by condition ID and delivers "trade" fills
// and "order" lifecycle events (placement, cancellation, matching) for our
// own orders. The engine uses these as fill hints to react faster than the
// polling cadence; the order manager remains the authority on fill state.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes to all tracked markets on reconnection. A read deadline
// (90s) ensures silent server failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-lp/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	eventBufferSize  = 64               // buffer for trade/order events
)

// UserFeed manages the authenticated user WebSocket connection. It handles
// connection lifecycle, subscription tracking, message routing, and
// automatic reconnection with exponential backoff.
type UserFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes
	auth   *Auth

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // condition IDs

	tradeCh chan types.WSTradeEvent // fill notifications
	orderCh chan types.WSOrderEvent // order lifecycle events

	logger *slog.Logger
}

// NewUserFeed creates a WebSocket feed for the user channel.
func NewUserFeed(wsURL string, auth *Auth, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		url:        wsURL,
		auth:       auth,
		subscribed: make(map[string]bool),
		tradeCh:    make(chan types.WSTradeEvent, eventBufferSize),
		orderCh:    make(chan types.WSOrderEvent, eventBufferSize),
		logger:     logger.With("component", "ws_user"),
	}
}

// TradeEvents returns a read-only channel of trade (fill) events.
func (f *UserFeed) TradeEvents() <-chan types.WSTradeEvent { return f.tradeCh }

// OrderEvents returns a read-only channel of order lifecycle events.
func (f *UserFeed) OrderEvents() <-chan types.WSOrderEvent { return f.orderCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *UserFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds condition IDs to the tracked set and, when connected,
// sends a subscribe message for them.
func (f *UserFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	err := f.writeJSON(types.WSSubscribeMsg{
		Type:    "user",
		Auth:    f.auth.WSAuthPayload(),
		Markets: ids,
	})
	if err != nil {
		// Not connected yet: the IDs are tracked and will be included in the
		// initial subscription on connect.
		f.logger.Debug("subscribe deferred until connect", "error", err)
	}
	return nil
}

// Close gracefully closes the connection.
func (f *UserFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *UserFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "channel", "user")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *UserFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(types.WSSubscribeMsg{
		Type:    "user",
		Auth:    f.auth.WSAuthPayload(),
		Markets: ids,
	})
}

func (f *UserFeed) dispatchMessage(data []byte) {
	// Peek at event_type to route
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "trade":
		var evt types.WSTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "id", evt.ID)
		}

	case "order":
		var evt types.WSOrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "id", evt.ID)
		}

	default:
		f.logger.Debug("ignoring ws event", "type", envelope.EventType)
	}
}

func (f *UserFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *UserFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *UserFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
