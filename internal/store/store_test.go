package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"polymarket-lp/pkg/types"
)

func testState() *SessionState {
	return &SessionState{
		SessionID:   "s-1",
		Active:      true,
		Mode:        "dry_run",
		MarketSlug:  "test-market",
		ConditionID: "0xcond",
		YesTokenID:  "yes-token",
		NoTokenID:   "no-token",
		Orders: []types.Order{
			{ID: "dry-1-100", Side: types.BUY, Price: 0.46, Size: 108.69, Status: types.StatusOpen},
		},
		Position: types.Position{
			YesShares: 50,
			TotalCost: 23,
			SessionStart: time.Now().UTC().Truncate(time.Second),
		},
		LastMidpoint: 0.50,
		SessionPnL:   -0.5,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	want := testState()
	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected state, got nil")
	}
	if got.SessionID != want.SessionID || !got.Active || got.MarketSlug != want.MarketSlug {
		t.Errorf("loaded state mismatch: %+v", got)
	}
	if len(got.Orders) != 1 || got.Orders[0].ID != "dry-1-100" {
		t.Errorf("orders not restored: %+v", got.Orders)
	}
	if got.Position.YesShares != 50 {
		t.Errorf("position yes shares = %v, want 50", got.Position.YesShares)
	}
	if got.Version != StateVersion {
		t.Errorf("version = %d, want %d", got.Version, StateVersion)
	}
}

func TestLoadMissingIsNil(t *testing.T) {
	t.Parallel()
	s, err := Open(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}

	state, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Errorf("expected nil for missing file, got %+v", state)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version": 99}`), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err == nil {
		t.Error("expected error for unknown state version")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(testState()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "deep", "state.json")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(testState()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file missing: %v", err)
	}
}
