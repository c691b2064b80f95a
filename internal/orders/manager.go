// Package orders owns all order and position state for a farming session.
//
// Manager is the only component allowed to mutate orders, position, or the
// persisted session. Every mutator runs under one mutex and persists before
// returning, so the state file on disk always reflects the last completed
// mutation. Risk guards run before any exchange call: an order that would
// breach a limit is rejected locally and the exchange never sees it.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymarket-lp/internal/config"
	"polymarket-lp/internal/exchange"
	"polymarket-lp/internal/journal"
	"polymarket-lp/internal/notify"
	"polymarket-lp/internal/store"
	"polymarket-lp/pkg/types"
)

// RiskError reports which guard rejected an order. Rejections are expected,
// recoverable outcomes; callers log them and carry on.
type RiskError struct {
	Guard  string // "stop_flag", "active_strategy", "max_lp_capital", "max_position_one_side", "max_loss_per_session"
	Reason string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("order rejected by %s: %s", e.Guard, e.Reason)
}

// IsRiskRejection reports whether err is a risk-guard rejection.
func IsRiskRejection(err error) bool {
	var re *RiskError
	return errors.As(err, &re)
}

// Manager is the sole authority over session, order, and position state.
type Manager struct {
	mu sync.Mutex

	client   exchange.Client
	store    *store.Store
	journal  *journal.Journal
	notifier notify.Sink
	fillSim  FillSimulator
	risk     config.RiskConfig
	logger   *slog.Logger

	state *store.SessionState
}

// NewManager creates a manager and loads any previously persisted session.
func NewManager(
	cfg config.Config,
	client exchange.Client,
	st *store.Store,
	jr *journal.Journal,
	sink notify.Sink,
	sim FillSimulator,
	logger *slog.Logger,
) (*Manager, error) {
	state, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}
	if state == nil {
		state = &store.SessionState{Mode: string(client.Mode())}
	}

	return &Manager{
		client:   client,
		store:    st,
		journal:  jr,
		notifier: sink,
		fillSim:  sim,
		risk:     cfg.Risk,
		logger:   logger.With("component", "orders"),
		state:    state,
	}, nil
}

// StartupRecovery handles a state file left behind by an unclean shutdown.
// If the previous session is still marked active, it cancels everything on
// the exchange (best-effort), force-cancels every local working order,
// deactivates the session, clears the stop flag, and emits exactly one
// recovery notification with the position snapshot.
func (m *Manager) StartupRecovery(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active {
		return
	}

	open := 0
	for i := range m.state.Orders {
		if m.state.Orders[i].Status.Working() {
			open++
		}
	}
	m.logger.Warn("unclean shutdown detected, recovering session",
		"session_id", m.state.SessionID,
		"open_orders", open,
		"yes_shares", m.state.Position.YesShares,
		"no_shares", m.state.Position.NoShares,
	)

	if err := m.client.CancelAll(ctx); err != nil {
		m.logger.Error("recovery cancel-all failed", "error", err)
	}
	for i := range m.state.Orders {
		if m.state.Orders[i].Status.Working() {
			m.state.Orders[i].Status = types.StatusCancelled
		}
	}
	m.state.Active = false
	m.state.StopFlag = false
	m.persist()

	m.notifier.Notify(fmt.Sprintf(
		"⚠️ Recovered interrupted session %s on %s: cancelled %d open order(s). Position: %.2f YES / %.2f NO, cost $%.2f",
		m.state.SessionID, m.state.MarketSlug, open,
		m.state.Position.YesShares, m.state.Position.NoShares, m.state.Position.TotalCost,
	))
}

// StartSession replaces any previous session with a fresh one for the
// given market. Orders and position from prior sessions are not carried
// over.
func (m *Manager) StartSession(ctx context.Context, ref types.MarketRef) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = &store.SessionState{
		SessionID:   uuid.NewString(),
		Active:      true,
		Mode:        string(m.client.Mode()),
		MarketSlug:  ref.Slug,
		ConditionID: ref.ConditionID,
		YesTokenID:  ref.YesTokenID,
		NoTokenID:   ref.NoTokenID,
		EndDate:     ref.EndDate,
		Position:    types.Position{SessionStart: time.Now()},
	}
	m.persist()
	m.journal.SessionStarted(ctx, m.state.SessionID, ref.Slug, m.state.Mode)

	m.logger.Info("session started",
		"session_id", m.state.SessionID,
		"market", ref.Slug,
		"mode", m.state.Mode,
	)
	return m.state.SessionID
}

// EndSession cancels all open orders and deactivates the session.
func (m *Manager) EndSession(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelAllLocked(ctx)
	m.state.Active = false
	m.persist()
	m.journal.SessionEnded(ctx, m.state.SessionID, reason, m.state.SessionPnL)

	m.logger.Info("session ended",
		"session_id", m.state.SessionID,
		"reason", reason,
		"pnl", m.state.SessionPnL,
	)
}

// Deactivate ends the session without touching orders. Used by the
// emergency close path, where the just-placed liquidation SELL must stay
// working after the session is over.
func (m *Manager) Deactivate(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Active = false
	m.persist()
	m.journal.SessionEnded(ctx, m.state.SessionID, reason, m.state.SessionPnL)

	m.logger.Info("session deactivated",
		"session_id", m.state.SessionID, "reason", reason)
}

// SetStopFlag sets (or clears) the persisted kill switch. Because the flag
// is written to disk, a stop request survives a crash between request and
// observation.
func (m *Manager) SetStopFlag(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.StopFlag = v
	m.persist()
}

// PlaceOrder runs every risk guard, then submits to the exchange and
// records the new order. Returns a *RiskError when a guard rejects;
// guards are evaluated in a fixed order and the first failure wins.
func (m *Manager) PlaceOrder(ctx context.Context, tokenID string, side types.Side, price, size float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRisk(tokenID, side, price, size); err != nil {
		m.logger.Warn("order rejected",
			"guard", err.Guard, "reason", err.Reason,
			"side", side, "price", price, "size", size,
		)
		return "", err
	}

	id, err := m.client.PlaceOrder(ctx, tokenID, side, price, size)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	m.state.Orders = append(m.state.Orders, types.Order{
		ID:       id,
		TokenID:  tokenID,
		Side:     side,
		Price:    price,
		Size:     size,
		Status:   types.StatusOpen,
		PlacedAt: time.Now(),
	})
	m.persist()

	m.logger.Info("order recorded",
		"order_id", id, "side", side, "price", price, "size", size)
	return id, nil
}

// checkRisk evaluates the guards in order. Caller must hold m.mu.
func (m *Manager) checkRisk(tokenID string, side types.Side, price, size float64) *RiskError {
	if m.state.StopFlag {
		return &RiskError{Guard: "stop_flag", Reason: "kill switch is set"}
	}
	if m.risk.ActiveStrategy != "lp" {
		return &RiskError{
			Guard:  "active_strategy",
			Reason: fmt.Sprintf("capital is routed to %q", m.risk.ActiveStrategy),
		}
	}

	notional := price * size

	// Deployed capital counts the position cost basis plus everything
	// resting on the book.
	deployed := m.state.Position.TotalCost + m.openNotional()
	if deployed+notional > m.risk.MaxLPCapital {
		return &RiskError{
			Guard: "max_lp_capital",
			Reason: fmt.Sprintf("deployed $%.2f + order $%.2f exceeds cap $%.2f",
				deployed, notional, m.risk.MaxLPCapital),
		}
	}

	// One-side cap on the outcome this order would acquire. A SELL grows
	// the opposite side, same as the fill accounting.
	yes := m.acquiresYes(tokenID, side)
	sideCost, sideName := m.state.Position.YesCost, "YES"
	if !yes {
		sideCost, sideName = m.state.Position.NoCost, "NO"
	}
	exposure := sideCost + m.openNotionalSide(yes)
	if exposure+notional > m.risk.MaxPositionOneSide {
		return &RiskError{
			Guard: "max_position_one_side",
			Reason: fmt.Sprintf("%s exposure $%.2f + order $%.2f exceeds cap $%.2f",
				sideName, exposure, notional, m.risk.MaxPositionOneSide),
		}
	}

	if m.state.SessionPnL < -m.risk.MaxLossPerSession {
		return &RiskError{
			Guard: "max_loss_per_session",
			Reason: fmt.Sprintf("session pnl $%.2f breaches loss limit $%.2f",
				m.state.SessionPnL, m.risk.MaxLossPerSession),
		}
	}
	return nil
}

// acquiresYes reports which outcome an order accumulates: YES for a BUY on
// the yes token or a SELL on the no token, NO otherwise. Caller must hold
// m.mu.
func (m *Manager) acquiresYes(tokenID string, side types.Side) bool {
	return (tokenID != m.state.NoTokenID) == (side == types.BUY)
}

// openNotional sums unfilled price×size over all working orders.
// Caller must hold m.mu.
func (m *Manager) openNotional() float64 {
	var total float64
	for i := range m.state.Orders {
		o := &m.state.Orders[i]
		if o.Status.Working() {
			total += o.Price * (o.Size - o.FillAmount)
		}
	}
	return total
}

// openNotionalSide sums unfilled notional over working orders that acquire
// the given outcome. Caller must hold m.mu.
func (m *Manager) openNotionalSide(yes bool) float64 {
	var total float64
	for i := range m.state.Orders {
		o := &m.state.Orders[i]
		if o.Status.Working() && m.acquiresYes(o.TokenID, o.Side) == yes {
			total += o.Price * (o.Size - o.FillAmount)
		}
	}
	return total
}

// CancelOrder cancels one order. The exchange call is best-effort; local
// state is always marked cancelled so the manager never believes an order
// is open after it decided to close it.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *types.Order
	for i := range m.state.Orders {
		if m.state.Orders[i].ID == orderID {
			target = &m.state.Orders[i]
			break
		}
	}
	if target == nil || !target.Status.Working() {
		return false
	}

	if err := m.client.Cancel(ctx, orderID); err != nil {
		m.logger.Error("exchange cancel failed, marking cancelled locally",
			"order_id", orderID, "error", err)
	}
	target.Status = types.StatusCancelled
	m.persist()
	return true
}

// CancelAllOrders cancels every working order and returns how many were
// newly cancelled. A second consecutive call is a no-op.
func (m *Manager) CancelAllOrders(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelAllLocked(ctx)
}

func (m *Manager) cancelAllLocked(ctx context.Context) int {
	working := 0
	for i := range m.state.Orders {
		if m.state.Orders[i].Status.Working() {
			working++
		}
	}
	if working == 0 {
		return 0
	}

	if err := m.client.CancelAll(ctx); err != nil {
		m.logger.Error("exchange cancel-all failed, marking cancelled locally", "error", err)
	}
	for i := range m.state.Orders {
		if m.state.Orders[i].Status.Working() {
			m.state.Orders[i].Status = types.StatusCancelled
		}
	}
	m.persist()

	m.logger.Info("cancelled open orders", "count", working)
	return working
}

// CheckFills detects fills on working orders and returns the orders that
// became fully filled since the last check. Partial fills update the
// position but are not returned until they complete. In dry-run mode the
// fill simulator stands in for the exchange.
func (m *Manager) CheckFills(ctx context.Context) []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var filled []types.Order
	changed := false

	for i := range m.state.Orders {
		o := &m.state.Orders[i]
		if !o.Status.Working() {
			continue
		}

		if m.client.Mode() == types.ModeDryRun {
			if m.fillSim != nil && m.fillSim.ShouldFill(*o) {
				delta := o.Size - o.FillAmount
				m.applyFill(o, delta)
				m.journal.RecordFill(ctx, m.state.SessionID, *o, delta)
				filled = append(filled, *o)
				changed = true
			}
			continue
		}

		status, err := m.client.GetOrderStatus(ctx, o.ID)
		if err != nil {
			m.logger.Warn("fill check failed", "order_id", o.ID, "error", err)
			continue
		}
		if status == nil {
			// Order unknown to the exchange; leave it for the next pass.
			continue
		}

		matched, _ := strconv.ParseFloat(status.SizeMatched, 64)
		switch {
		case status.Status == "MATCHED" || matched >= o.Size:
			delta := o.Size - o.FillAmount
			m.applyFill(o, delta)
			m.journal.RecordFill(ctx, m.state.SessionID, *o, delta)
			filled = append(filled, *o)
			changed = true
		case matched > o.FillAmount:
			delta := matched - o.FillAmount
			m.applyFill(o, delta)
			m.journal.RecordFill(ctx, m.state.SessionID, *o, delta)
			changed = true
		case status.Status == "CANCELED" && o.Status.CanTransition(types.StatusCancelled):
			o.Status = types.StatusCancelled
			changed = true
		}
	}

	if changed {
		m.persist()
	}
	return filled
}

// applyFill advances an order by delta shares and mirrors the fill into
// the position. Caller must hold m.mu.
func (m *Manager) applyFill(o *types.Order, delta float64) {
	if delta <= 0 {
		return
	}
	o.FillAmount += delta
	o.FilledAt = time.Now()
	if o.FillAmount >= o.Size {
		o.Status = types.StatusFilled
	} else {
		o.Status = types.StatusPartial
	}

	// A SELL acquires exposure on the opposite outcome: selling YES is the
	// same trade as buying NO. Shares and cost only ever accumulate — both
	// sides consume capital until resolution.
	pos := &m.state.Position
	cost := delta * o.Price
	if m.acquiresYes(o.TokenID, o.Side) {
		pos.YesShares += delta
		pos.YesCost += cost
	} else {
		pos.NoShares += delta
		pos.NoCost += cost
	}
	pos.TotalCost = pos.YesCost + pos.NoCost
	pos.TotalFills++

	m.logger.Info("fill",
		"order_id", o.ID,
		"side", o.Side,
		"price", o.Price,
		"delta", delta,
		"status", o.Status,
		"yes_shares", pos.YesShares,
		"no_shares", pos.NoShares,
	)
}

// MarkToMarket recomputes the session PnL at the given YES midpoint and
// persists it. PnL is the mark value of held shares minus their cost.
func (m *Manager) MarkToMarket(mid float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.SessionPnL = m.state.Position.MarkValue(mid) - m.state.Position.TotalCost
	m.state.LastMidpoint = mid
	m.persist()
	return m.state.SessionPnL
}

// persist writes the session state. Caller must hold m.mu. A failed write
// is logged loudly but does not abort the mutation: the in-memory state
// remains the operational truth until the next successful save.
func (m *Manager) persist() {
	if err := m.store.Save(m.state); err != nil {
		m.logger.Error("state persist failed", "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Read-side accessors
// ————————————————————————————————————————————————————————————————————————

// Position returns a copy of the current position.
func (m *Manager) Position() types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Position
}

// OpenOrders returns copies of all working orders.
func (m *Manager) OpenOrders() []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Order
	for _, o := range m.state.Orders {
		if o.Status.Working() {
			out = append(out, o)
		}
	}
	return out
}

// SessionPnL returns the last mark-to-market PnL.
func (m *Manager) SessionPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SessionPnL
}

// StopFlag reports whether the kill switch is set.
func (m *Manager) StopFlag() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.StopFlag
}

// Active reports whether a session is running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Active
}

// SessionID returns the current session identifier.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SessionID
}

// Market returns the token pair and end date of the current session.
func (m *Manager) Market() types.MarketRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.MarketRef{
		Slug:        m.state.MarketSlug,
		ConditionID: m.state.ConditionID,
		YesTokenID:  m.state.YesTokenID,
		NoTokenID:   m.state.NoTokenID,
		EndDate:     m.state.EndDate,
	}
}

// FormatStatus renders a human-readable session summary for operators.
func (m *Manager) FormatStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (%s)\n", m.state.SessionID, m.state.Mode)
	fmt.Fprintf(&b, "Market: %s\n", m.state.MarketSlug)
	fmt.Fprintf(&b, "Active: %v  StopFlag: %v\n", m.state.Active, m.state.StopFlag)

	open := 0
	for _, o := range m.state.Orders {
		if o.Status.Working() {
			open++
		}
	}
	fmt.Fprintf(&b, "Orders: %d open / %d total\n", open, len(m.state.Orders))
	fmt.Fprintf(&b, "Position: %.2f YES / %.2f NO, cost $%.2f, fills %d\n",
		m.state.Position.YesShares, m.state.Position.NoShares,
		m.state.Position.TotalCost, m.state.Position.TotalFills)
	fmt.Fprintf(&b, "PnL: $%.2f @ mid %.3f", m.state.SessionPnL, m.state.LastMidpoint)
	return b.String()
}
