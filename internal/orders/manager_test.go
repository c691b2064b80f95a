package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polymarket-lp/internal/config"
	"polymarket-lp/internal/exchange"
	"polymarket-lp/internal/journal"
	"polymarket-lp/internal/store"
	"polymarket-lp/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink counts notifications for recovery assertions.
type recordingSink struct {
	messages []string
}

func (r *recordingSink) Notify(text string) {
	r.messages = append(r.messages, text)
}

// fillAll fills every order on the first check.
type fillAll struct{}

func (fillAll) ShouldFill(types.Order) bool { return true }

// fillNone never fills.
type fillNone struct{}

func (fillNone) ShouldFill(types.Order) bool { return false }

func testConfig() config.Config {
	cfg := config.Config{DryRun: true}
	cfg.Risk = config.RiskConfig{
		MaxLPCapital:       300,
		MaxPositionOneSide: 150,
		MaxLossPerSession:  20,
		ActiveStrategy:     "lp",
	}
	return cfg
}

func testRef() types.MarketRef {
	return types.MarketRef{
		Slug:        "test-market",
		ConditionID: "0xcond",
		YesTokenID:  "yes-token",
		NoTokenID:   "no-token",
		EndDate:     time.Now().Add(48 * time.Hour),
	}
}

type fixture struct {
	mgr  *Manager
	sim  *exchange.SimClient
	sink *recordingSink
	st   *store.Store
}

func newFixture(t *testing.T, cfg config.Config, fs FillSimulator) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	sim := exchange.NewSimClient(discardLogger())
	sink := &recordingSink{}

	mgr, err := NewManager(cfg, sim, st, nil, sink, fs, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{mgr: mgr, sim: sim, sink: sink, st: st}
}

func TestPlaceOrderRecordsOpenOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillNone{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	id, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 108.69)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "dry-") {
		t.Errorf("dry-run order id = %q", id)
	}

	open := f.mgr.OpenOrders()
	if len(open) != 1 || open[0].Status != types.StatusOpen {
		t.Fatalf("open orders = %+v", open)
	}
}

func TestPlaceOrderRejectedWhenStopFlagSet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillNone{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())
	f.mgr.SetStopFlag(true)

	_, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 10)
	if !IsRiskRejection(err) {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if len(f.mgr.OpenOrders()) != 0 {
		t.Error("no order may exist while the stop flag is set")
	}
}

func TestPlaceOrderRejectedWhenStrategyInactive(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Risk.ActiveStrategy = "bonds"
	f := newFixture(t, cfg, fillNone{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	if _, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 10); !IsRiskRejection(err) {
		t.Fatalf("expected risk rejection, got %v", err)
	}
}

func TestCapitalCapCountsOpenOrderNotional(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Risk.MaxLPCapital = 100
	cfg.Risk.MaxPositionOneSide = 1000
	f := newFixture(t, cfg, fillNone{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	// $60 resting on the book
	if _, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.50, 120); err != nil {
		t.Fatal(err)
	}
	// $50 more would breach the $100 cap even with zero position
	_, err := f.mgr.PlaceOrder(ctx, "no-token", types.BUY, 0.50, 100)
	if !IsRiskRejection(err) {
		t.Fatalf("expected capital rejection, got %v", err)
	}
	// $30 more still fits
	if _, err := f.mgr.PlaceOrder(ctx, "no-token", types.BUY, 0.50, 60); err != nil {
		t.Fatal(err)
	}
}

func TestOneSideExposureCapRejectsWithoutMutation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillAll{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	// Build a $140 YES position via a filled buy
	if _, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.50, 280); err != nil {
		t.Fatal(err)
	}
	if got := f.mgr.CheckFills(ctx); len(got) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(got))
	}
	before := f.mgr.Position()
	if before.YesCost != 140 {
		t.Fatalf("yes cost = %v, want 140", before.YesCost)
	}

	// A $20 buy would push the YES side to $160 against the $150 cap
	_, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.50, 40)
	if !IsRiskRejection(err) {
		t.Fatalf("expected one-side rejection, got %v", err)
	}

	after := f.mgr.Position()
	if after != before {
		t.Errorf("position mutated by rejected order: %+v → %+v", before, after)
	}
	if len(f.mgr.OpenOrders()) != 0 {
		t.Error("rejected order must not be recorded")
	}
}

func TestLossLimitBlocksNewOrders(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillAll{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	// Buy 100 YES at 0.50 ($50 cost), then mark at 0.10: pnl = 10 − 50 = −40
	if _, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.50, 100); err != nil {
		t.Fatal(err)
	}
	f.mgr.CheckFills(ctx)
	if pnl := f.mgr.MarkToMarket(0.10); pnl > -39 {
		t.Fatalf("pnl = %v, want about -40", pnl)
	}

	if _, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.10, 10); !IsRiskRejection(err) {
		t.Fatalf("expected loss-limit rejection, got %v", err)
	}
}

func TestCancelAllIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillNone{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 10)
	f.mgr.PlaceOrder(ctx, "no-token", types.BUY, 0.53, 10)

	if n := f.mgr.CancelAllOrders(ctx); n != 2 {
		t.Errorf("first cancel-all = %d, want 2", n)
	}
	if n := f.mgr.CancelAllOrders(ctx); n != 0 {
		t.Errorf("second cancel-all = %d, want 0", n)
	}
	if len(f.mgr.OpenOrders()) != 0 {
		t.Error("orders still open after cancel-all")
	}
}

func TestCheckFillsUpdatesPosition(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillAll{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 100)
	filled := f.mgr.CheckFills(ctx)
	if len(filled) != 1 {
		t.Fatalf("filled = %d, want 1", len(filled))
	}
	if filled[0].Status != types.StatusFilled {
		t.Errorf("status = %s, want FILLED", filled[0].Status)
	}

	pos := f.mgr.Position()
	if pos.YesShares != 100 || pos.TotalCost != 46 || pos.TotalFills != 1 {
		t.Errorf("position = %+v", pos)
	}

	// Nothing further to fill
	if again := f.mgr.CheckFills(ctx); len(again) != 0 {
		t.Errorf("second check filled %d orders", len(again))
	}
}

func TestSellFillAccumulatesOppositeSide(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillAll{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 100)
	f.mgr.CheckFills(ctx)
	f.mgr.PlaceOrder(ctx, "yes-token", types.SELL, 0.54, 100)
	f.mgr.CheckFills(ctx)

	// Selling YES is buying NO: both legs consume capital until resolution,
	// so cost basis only ever grows.
	pos := f.mgr.Position()
	if pos.YesShares != 100 || pos.NoShares != 100 {
		t.Errorf("shares = %v YES / %v NO, want 100/100", pos.YesShares, pos.NoShares)
	}
	if pos.YesCost != 46 || pos.NoCost != 54 {
		t.Errorf("cost = %v YES / %v NO, want 46/54", pos.YesCost, pos.NoCost)
	}
	if pos.TotalCost != 100 {
		t.Errorf("total cost = %v, want 100", pos.TotalCost)
	}
	if pos.TotalFills != 2 {
		t.Errorf("total fills = %d, want 2", pos.TotalFills)
	}
}

func TestOneSideExposureCapAppliesToSells(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillAll{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	// A filled SELL builds $140 of NO-side exposure
	if _, err := f.mgr.PlaceOrder(ctx, "yes-token", types.SELL, 0.50, 280); err != nil {
		t.Fatal(err)
	}
	f.mgr.CheckFills(ctx)
	if pos := f.mgr.Position(); pos.NoCost != 140 {
		t.Fatalf("no cost = %v, want 140", pos.NoCost)
	}

	// $20 more on the NO side would breach the $150 cap
	_, err := f.mgr.PlaceOrder(ctx, "yes-token", types.SELL, 0.50, 40)
	if !IsRiskRejection(err) {
		t.Fatalf("expected one-side rejection, got %v", err)
	}

	// The YES side is untouched and still has room
	if _, err := f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.50, 40); err != nil {
		t.Fatal(err)
	}
}

// scriptedLive is a live-mode client whose order statuses are set by the
// test, exercising the polling fill path.
type scriptedLive struct {
	seq    int
	status map[string]*types.OpenOrder
}

func newScriptedLive() *scriptedLive {
	return &scriptedLive{status: make(map[string]*types.OpenOrder)}
}

func (c *scriptedLive) Mode() types.Mode { return types.ModeLive }

func (c *scriptedLive) GetOrderBook(context.Context, string) (*types.BookResponse, error) {
	return &types.BookResponse{}, nil
}

func (c *scriptedLive) PlaceOrder(_ context.Context, tokenID string, side types.Side, price, size float64) (string, error) {
	c.seq++
	id := fmt.Sprintf("live-%d", c.seq)
	c.setStatus(id, "LIVE", "0")
	return id, nil
}

func (c *scriptedLive) Cancel(context.Context, string) error { return nil }
func (c *scriptedLive) CancelAll(context.Context) error      { return nil }

func (c *scriptedLive) GetOrderStatus(_ context.Context, orderID string) (*types.OpenOrder, error) {
	return c.status[orderID], nil
}

func (c *scriptedLive) setStatus(orderID, status, matched string) {
	c.status[orderID] = &types.OpenOrder{ID: orderID, Status: status, SizeMatched: matched}
}

func TestPartialFillsAreJournaled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	jr, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), 24*time.Hour, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { jr.Close() })

	live := newScriptedLive()
	cfg := testConfig()
	cfg.DryRun = false
	mgr, err := NewManager(cfg, live, st, jr, &recordingSink{}, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	session := mgr.StartSession(ctx, testRef())

	id, err := mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.50, 100)
	if err != nil {
		t.Fatal(err)
	}

	// 40 shares match: not complete, but the increment must be journaled
	live.setStatus(id, "LIVE", "40")
	if done := mgr.CheckFills(ctx); len(done) != 0 {
		t.Fatalf("partial fill returned as complete: %+v", done)
	}
	open := mgr.OpenOrders()
	if len(open) != 1 || open[0].Status != types.StatusPartial || open[0].FillAmount != 40 {
		t.Fatalf("open orders after partial = %+v", open)
	}
	if n, _ := jr.FillCount(ctx, session); n != 1 {
		t.Errorf("fills journaled after partial = %d, want 1", n)
	}

	// The remainder matches
	live.setStatus(id, "MATCHED", "100")
	if done := mgr.CheckFills(ctx); len(done) != 1 {
		t.Fatal("completed fill not returned")
	}
	if n, _ := jr.FillCount(ctx, session); n != 2 {
		t.Errorf("fills journaled after completion = %d, want 2", n)
	}
	if total, _ := jr.FilledSize(ctx, session, id); total != 100 {
		t.Errorf("journaled size = %v, want 100", total)
	}
	if pos := mgr.Position(); pos.YesShares != 100 || pos.TotalCost != 50 {
		t.Errorf("position = %+v", pos)
	}
}

func TestMarkToMarket(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillAll{})
	ctx := context.Background()
	f.mgr.StartSession(ctx, testRef())

	f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 100)
	f.mgr.CheckFills(ctx)

	pnl := f.mgr.MarkToMarket(0.50)
	if pnl < 3.9 || pnl > 4.1 {
		t.Errorf("pnl = %v, want 4.00", pnl)
	}
}

func TestStopFlagSurvivesRestart(t *testing.T) {
	t.Parallel()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	sim := exchange.NewSimClient(discardLogger())

	mgr, err := NewManager(testConfig(), sim, st, nil, &recordingSink{}, fillNone{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	mgr.StartSession(context.Background(), testRef())
	mgr.SetStopFlag(true)
	mgr.EndSession(context.Background(), "test")

	reopened, err := NewManager(testConfig(), sim, st, nil, &recordingSink{}, fillNone{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.StopFlag() {
		t.Error("stop flag lost across restart")
	}
}

func TestStartupRecovery(t *testing.T) {
	t.Parallel()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	// A state file left behind by a crash: active with two open orders
	crashState := &store.SessionState{
		SessionID:  "s-crashed",
		Active:     true,
		StopFlag:   true,
		Mode:       "dry_run",
		MarketSlug: "test-market",
		YesTokenID: "yes-token",
		NoTokenID:  "no-token",
		Orders: []types.Order{
			{ID: "dry-1-100", TokenID: "yes-token", Side: types.BUY, Price: 0.46, Size: 100, Status: types.StatusOpen},
			{ID: "dry-2-101", TokenID: "no-token", Side: types.BUY, Price: 0.53, Size: 90, Status: types.StatusOpen},
		},
		Position: types.Position{YesShares: 50, YesCost: 23, TotalCost: 23},
	}
	if err := st.Save(crashState); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	mgr, err := NewManager(testConfig(), exchange.NewSimClient(discardLogger()), st, nil, sink, fillNone{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	mgr.StartupRecovery(context.Background())

	if mgr.Active() {
		t.Error("session still active after recovery")
	}
	if mgr.StopFlag() {
		t.Error("stop flag not cleared by recovery")
	}
	if len(mgr.OpenOrders()) != 0 {
		t.Error("open orders survived recovery")
	}
	if len(sink.messages) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(sink.messages))
	}
	if !strings.Contains(sink.messages[0], "test-market") {
		t.Errorf("recovery notification missing market: %q", sink.messages[0])
	}

	// Recovered state is durable
	loaded, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range loaded.Orders {
		if o.Status != types.StatusCancelled {
			t.Errorf("order %s status = %s, want CANCELLED", o.ID, o.Status)
		}
	}
}

func TestStartupRecoveryNoopWhenInactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillNone{})
	f.mgr.StartupRecovery(context.Background())

	if len(f.sink.messages) != 0 {
		t.Errorf("clean start emitted %d notifications", len(f.sink.messages))
	}
}

func TestStartSessionReplacesPriorState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), fillAll{})
	ctx := context.Background()

	first := f.mgr.StartSession(ctx, testRef())
	f.mgr.PlaceOrder(ctx, "yes-token", types.BUY, 0.46, 100)
	f.mgr.CheckFills(ctx)

	second := f.mgr.StartSession(ctx, testRef())
	if first == second {
		t.Error("session ids must differ")
	}
	if pos := f.mgr.Position(); pos.YesShares != 0 || pos.TotalFills != 0 {
		t.Errorf("position carried over: %+v", pos)
	}
	if len(f.mgr.OpenOrders()) != 0 {
		t.Error("orders carried over")
	}
}
