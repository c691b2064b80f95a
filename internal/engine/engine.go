// Package engine drives the liquidity-farming control loop.
//
// A single background worker runs a finite state machine over the order
// manager and book reader: place a resting order near the touch, watch for
// fills and midpoint drift, flip to the opposite side on a fill, and bail
// out through the unwind or emergency paths when the market turns against
// the position. All trading decisions happen on this one goroutine; the
// order manager's mutex makes administrative calls from other goroutines
// (stop, status) safe.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-lp/internal/config"
	"polymarket-lp/internal/market"
	"polymarket-lp/internal/notify"
	"polymarket-lp/internal/orders"
	"polymarket-lp/pkg/types"
)

// State is the engine's position in the farming lifecycle.
type State string

const (
	StateIdle           State = "IDLE"
	StateScanning       State = "SCANNING"
	StatePlaced         State = "PLACED"
	StateMonitoring     State = "MONITORING"
	StateFilled         State = "FILLED"
	StateFlipping       State = "FLIPPING"
	StateUnwinding      State = "UNWINDING"
	StateEmergencyClose State = "EMERGENCY_CLOSE"
	StateAPIPaused      State = "API_PAUSED"
)

// Engine orchestrates one market-making session at a time.
type Engine struct {
	cfg      config.FarmingConfig
	risk     config.RiskConfig
	mgr      *orders.Manager
	reader   *market.Reader
	notifier notify.Sink
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Control-loop fields, touched only by the worker goroutine once
	// Start has returned.
	market       types.MarketRef
	activeToken  string     // token the resting order sits on
	activeSide   types.Side // side of the resting order
	activeOrder  string     // order ID of the resting order, "" when none
	placedMid    float64    // midpoint at the time the resting order was placed
	fillMidpoint float64    // midpoint when the last fill was recorded; 0 = no fill yet
	trailing     bool       // crash trailing mode active
	apiFailures  int        // consecutive book-read failures

	fillHint chan struct{} // poke from the user feed: check fills now

	// tickStep is the sleep increment between stop-flag checks. One second
	// in production; tests shrink it.
	tickStep time.Duration
}

// New creates an engine in the IDLE state.
func New(cfg config.Config, mgr *orders.Manager, reader *market.Reader, sink notify.Sink, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg.Farming,
		risk:     cfg.Risk,
		mgr:      mgr,
		reader:   reader,
		notifier: sink,
		logger:   logger.With("component", "engine"),
		state:    StateIdle,
		fillHint: make(chan struct{}, 1),
		tickStep: time.Second,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// IsRunning reports whether the control loop is active.
func (e *Engine) IsRunning() bool {
	return e.State() != StateIdle
}

// Status renders the engine and session state for operators.
func (e *Engine) Status() string {
	return fmt.Sprintf("Engine: %s\n%s", e.State(), e.mgr.FormatStatus())
}

// FillHint nudges the loop to check fills immediately instead of waiting
// out the current interval. Safe to call from any goroutine; extra hints
// while one is pending are dropped.
func (e *Engine) FillHint() {
	select {
	case e.fillHint <- struct{}{}:
	default:
	}
}

// Start begins farming the given market: opens a session, places the
// initial BUY at the recommended price, and launches the control loop.
// Returns an error when already running or the initial book read fails.
func (e *Engine) Start(ctx context.Context, ref types.MarketRef) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine already running (state %s)", e.state)
	}
	e.state = StateScanning
	e.mu.Unlock()

	e.market = ref
	e.activeToken = ref.YesTokenID
	e.activeSide = types.BUY
	e.activeOrder = ""
	e.fillMidpoint = 0
	e.trailing = false
	e.apiFailures = 0

	e.mgr.StartSession(ctx, ref)

	snap, err := e.reader.Snapshot(ctx, e.activeToken)
	if err != nil {
		e.mgr.EndSession(ctx, "initial book read failed")
		e.setState(StateIdle)
		return fmt.Errorf("initial book read: %w", err)
	}
	if !snap.WithinRewardZone {
		e.logger.Warn("spread outside reward zone at start", "spread", snap.Spread)
	}

	e.setState(StatePlaced)
	if err := e.placeResting(ctx, snap); err != nil {
		e.logger.Warn("initial placement rejected", "error", err)
	}
	e.setState(StateMonitoring)

	loopCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(loopCtx)
	}()

	e.logger.Info("farming started", "market", ref.Slug, "mid", snap.Midpoint)
	return nil
}

// Stop is the external kill switch: it sets the persisted stop flag,
// interrupts the loop, cancels all orders, and forces IDLE from any state.
func (e *Engine) Stop(ctx context.Context) {
	e.mgr.SetStopFlag(true)

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()
	e.wg.Wait()

	e.mgr.CancelAllOrders(ctx)
	if e.mgr.Active() {
		e.mgr.EndSession(ctx, "operator stop")
	}
	e.setState(StateIdle)
	e.logger.Info("farming stopped")
}

// run is the control loop. It sleeps in small increments between ticks so
// a stop request is observed within about a second, and wakes early on a
// fill hint from the user feed.
func (e *Engine) run(ctx context.Context) {
	for {
		if !e.sleepInterval(ctx) {
			return
		}
		if !e.tick(ctx) {
			e.setState(StateIdle)
			return
		}
	}
}

// sleepInterval waits out the effective tick interval (shortened while
// trailing), returning early on a fill hint or stop flag. Returns false
// when ctx is done.
func (e *Engine) sleepInterval(ctx context.Context) bool {
	interval := e.cfg.RebalanceInterval
	if e.trailing {
		interval = e.cfg.TrailInterval
	}

	var waited time.Duration
	for waited < interval {
		select {
		case <-ctx.Done():
			return false
		case <-e.fillHint:
			return true
		case <-time.After(e.tickStep):
			waited += e.tickStep
			if e.mgr.StopFlag() {
				return true
			}
		}
	}
	return true
}

// tick performs one pass of the monitoring loop. The checks run in a fixed
// order and the first branch that fires owns the tick. Returns false when
// the session is over and the loop must exit.
func (e *Engine) tick(ctx context.Context) bool {
	// 1. Kill switch
	if e.mgr.StopFlag() {
		e.logger.Info("stop flag observed, shutting down")
		e.mgr.CancelAllOrders(ctx)
		if e.mgr.Active() {
			e.mgr.EndSession(ctx, "stop flag")
		}
		return false
	}

	// 2. Market resolution approaching
	if !e.market.EndDate.IsZero() && time.Until(e.market.EndDate) < e.cfg.PreExitWindow {
		e.unwind(ctx, "market resolution approaching")
		return false
	}

	// 3. Session loss limit (uses the PnL from the previous mark)
	if e.mgr.SessionPnL() < -e.risk.MaxLossPerSession {
		e.unwind(ctx, "session loss limit breached")
		return false
	}

	// 4. Read the book; failures escalate
	snap, err := e.reader.Snapshot(ctx, e.activeToken)
	if err != nil {
		return e.handleAPIFailure(ctx, err)
	}
	e.apiFailures = 0
	e.mgr.MarkToMarket(snap.Midpoint)

	// 5. Crash policy applies once a fill has set a reference price
	if e.fillMidpoint > 0 {
		if done := e.checkPriceCrash(ctx, snap); done {
			return false
		}
	}

	// 6. Reprice when the midpoint drifted beyond the threshold
	e.maybeReprice(ctx, snap)

	// 7. Fills: flip to the opposite side
	for _, o := range e.mgr.CheckFills(ctx) {
		e.handleFill(ctx, o, snap)
	}
	return true
}

// maybeReprice moves the resting order when the midpoint has drifted. In
// trailing mode the threshold shrinks to trail_step so the order follows
// the price instead of sitting stale.
func (e *Engine) maybeReprice(ctx context.Context, snap *types.BookSnapshot) {
	if e.activeOrder == "" {
		// Nothing resting (rejected placement or just flipped); try again.
		if err := e.placeResting(ctx, snap); err != nil {
			e.logger.Warn("placement still rejected", "error", err)
		}
		return
	}

	threshold := e.cfg.MidpointThreshold
	if e.trailing {
		threshold = e.cfg.TrailStep
	}
	drift := snap.Midpoint - e.placedMid
	if drift < 0 {
		drift = -drift
	}
	if drift < threshold {
		return
	}

	e.logger.Info("repricing",
		"drift", drift, "threshold", threshold, "trailing", e.trailing)
	e.mgr.CancelOrder(ctx, e.activeOrder)
	e.activeOrder = ""
	if err := e.placeResting(ctx, snap); err != nil {
		e.logger.Warn("reprice placement rejected", "error", err)
	}
}

// placeResting places the working order for the current side at the
// recommended price, sized to the configured notional. Risk rejections are
// expected and leave activeOrder empty; the next tick retries.
func (e *Engine) placeResting(ctx context.Context, snap *types.BookSnapshot) error {
	price := snap.RecommendedBuy
	if e.activeSide == types.SELL {
		price = snap.RecommendedSell
	}
	size := e.cfg.OrderSizeUSD / price

	id, err := e.mgr.PlaceOrder(ctx, e.activeToken, e.activeSide, price, size)
	if err != nil {
		return err
	}
	e.activeOrder = id
	e.placedMid = snap.Midpoint
	return nil
}

// handleFill reacts to a completed fill: record the reference midpoint for
// the crash policy and flip the strategy to the opposite side.
func (e *Engine) handleFill(ctx context.Context, o types.Order, snap *types.BookSnapshot) {
	e.setState(StateFilled)
	e.fillMidpoint = snap.Midpoint
	if o.ID == e.activeOrder {
		e.activeOrder = ""
	}

	e.notifier.Notify(fmt.Sprintf(
		"✅ Fill: %s %.2f @ %.3f on %s (mid %.3f)",
		o.Side, o.FillAmount, o.Price, e.market.Slug, snap.Midpoint,
	))

	e.setState(StateFlipping)
	e.activeSide = o.Side.Opposite()
	if err := e.placeResting(ctx, snap); err != nil {
		e.logger.Warn("flip placement rejected", "error", err)
	}
	e.setState(StateMonitoring)
}

// checkPriceCrash applies the crash policy against the midpoint recorded
// at the last fill. Returns true when the session ended (emergency close).
func (e *Engine) checkPriceCrash(ctx context.Context, snap *types.BookSnapshot) bool {
	drop := e.fillMidpoint - snap.Midpoint
	if drop <= 0 {
		if e.trailing {
			e.trailing = false
			e.logger.Info("price recovered, trailing deactivated")
		}
		return false
	}
	dropPct := drop / e.fillMidpoint

	switch {
	case dropPct >= e.cfg.EmergencyClosePct:
		e.emergencyClose(ctx, snap, dropPct)
		return true

	case dropPct >= e.cfg.CrashThreshold:
		if !e.trailing {
			e.trailing = true
			e.logger.Warn("price crash, trailing activated",
				"drop", drop, "drop_pct", dropPct)
			e.notifier.Notify(fmt.Sprintf(
				"📉 Price crash on %s: %.1f%% drop from fill at %.3f, trailing the market down",
				e.market.Slug, dropPct*100, e.fillMidpoint,
			))
		}

	case dropPct < e.cfg.CrashThreshold/2 && e.trailing:
		e.trailing = false
		e.logger.Info("drop eased, trailing deactivated", "drop_pct", dropPct)
	}
	return false
}

// emergencyClose dumps the position: cancel everything and sell the full
// held quantity aggressively below the midpoint, accepting a small realized
// loss to avoid a larger one. Ends the session.
func (e *Engine) emergencyClose(ctx context.Context, snap *types.BookSnapshot, dropPct float64) {
	e.setState(StateEmergencyClose)
	e.logger.Error("emergency close",
		"fill_mid", e.fillMidpoint, "mid", snap.Midpoint, "drop_pct", dropPct)

	e.mgr.CancelAllOrders(ctx)
	e.activeOrder = ""

	pos := e.mgr.Position()
	held := pos.YesShares
	token := e.market.YesTokenID
	if e.activeToken == e.market.NoTokenID {
		held = pos.NoShares
		token = e.market.NoTokenID
	}
	if held > 0 {
		price := snap.Midpoint - 0.02
		if price < 0.01 {
			price = 0.01
		}
		if _, err := e.mgr.PlaceOrder(ctx, token, types.SELL, price, held); err != nil {
			e.logger.Error("emergency sell rejected", "error", err)
		}
	}

	e.notifier.Notify(fmt.Sprintf(
		"🚨 EMERGENCY CLOSE on %s: mid %.3f is %.1f%% below fill at %.3f. Selling %.2f shares.",
		e.market.Slug, snap.Midpoint, dropPct*100, e.fillMidpoint, held,
	))
	// Deactivate without cancelling, so the liquidation SELL stays working.
	e.mgr.Deactivate(ctx, "emergency close")
}

// unwind exits cleanly: cancel everything, report the final position, end
// the session.
func (e *Engine) unwind(ctx context.Context, reason string) {
	e.setState(StateUnwinding)
	e.logger.Info("unwinding", "reason", reason)

	e.mgr.CancelAllOrders(ctx)
	e.activeOrder = ""

	pos := e.mgr.Position()
	e.notifier.Notify(fmt.Sprintf(
		"🏁 Unwinding %s (%s). Final position: %.2f YES / %.2f NO, cost $%.2f, pnl $%.2f",
		e.market.Slug, reason, pos.YesShares, pos.NoShares, pos.TotalCost, e.mgr.SessionPnL(),
	))
	e.mgr.EndSession(ctx, reason)
}

// handleAPIFailure escalates consecutive book-read failures: linear
// backoff first, an operator alert at the notify threshold, and a full
// safe-mode pause (cancel everything once, wait, reset) at the pause
// threshold. Returns false only when ctx is cancelled during the wait.
func (e *Engine) handleAPIFailure(ctx context.Context, err error) bool {
	e.apiFailures++
	n := e.apiFailures
	e.logger.Warn("book read failed", "consecutive", n, "error", err)

	switch {
	case n >= e.cfg.APIPauseAfter:
		e.setState(StateAPIPaused)
		e.mgr.CancelAllOrders(ctx)
		e.activeOrder = ""
		e.notifier.Notify(fmt.Sprintf(
			"⏸️ API unreachable after %d attempts on %s. Orders cancelled, pausing %s.",
			n, e.market.Slug, e.cfg.APIPauseInterval,
		))
		if !e.sleep(ctx, e.cfg.APIPauseInterval) {
			return false
		}
		e.apiFailures = 0
		e.setState(StateMonitoring)

	case n == e.cfg.APINotifyAfter:
		e.notifier.Notify(fmt.Sprintf(
			"⚠️ %d consecutive API failures on %s: %v", n, e.market.Slug, err,
		))
		return e.sleep(ctx, time.Duration(n)*e.cfg.APIRetryBackoff)

	default:
		return e.sleep(ctx, time.Duration(n)*e.cfg.APIRetryBackoff)
	}
	return true
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
