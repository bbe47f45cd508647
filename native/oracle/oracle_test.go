package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/crypto"
	"bondledger/native/precision"
	"bondledger/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *events.Buffer, crypto.Address, crypto.Address) {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	admin := crypto.ContractAddress("admin")
	authority := crypto.ContractAddress("oracle")
	if err := st.SetIdentity(state.SlotRegistryAdmin, admin.Bytes()); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	if err := st.SetIdentity(state.SlotOracleAuthority, authority.Bytes()); err != nil {
		t.Fatalf("set authority: %v", err)
	}
	buf := &events.Buffer{}
	reg := NewRegistry(st)
	reg.SetEmitter(buf)
	reg.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return reg, buf, admin, authority
}

func TestNormalizedPriceScalesFeedDecimals(t *testing.T) {
	feed := StaticFeed{}
	feed.Set("weth", big.NewInt(100_00000000), 8)
	adapter := NewAdapter(feed)
	price, err := adapter.NormalizedPrice("WETH")
	if err != nil {
		t.Fatalf("normalized price: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(100), precision.One())
	if price.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, price)
	}
}

func TestNormalizedPriceFailures(t *testing.T) {
	feed := StaticFeed{}
	feed.Set("zero", big.NewInt(0), 8)
	feed.Set("huge", new(big.Int).Lsh(big.NewInt(1), 250), 1)
	adapter := NewAdapter(feed)

	if _, err := adapter.NormalizedPrice("missing"); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected ErrPriceZero for missing feed, got %v", err)
	}
	if _, err := adapter.NormalizedPrice("zero"); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected ErrPriceZero for zero price, got %v", err)
	}
	if _, err := adapter.NormalizedPrice("huge"); !errors.Is(err, precision.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg, buf, admin, authority := newTestRegistry(t)

	if err := reg.SetFeed(authority, "usdc", 8); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected authority to be rejected for SetFeed, got %v", err)
	}
	if err := reg.SetFeed(admin, "usdc", 0); !errors.Is(err, ErrInvalidDecimals) {
		t.Fatalf("expected ErrInvalidDecimals, got %v", err)
	}
	if err := reg.SetFeed(admin, "usdc", 8); err != nil {
		t.Fatalf("set feed: %v", err)
	}

	adapter := NewAdapter(reg)
	if _, err := adapter.NormalizedPrice("USDC"); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected unpublished feed to read as zero, got %v", err)
	}

	if err := reg.PublishPrice(admin, "usdc", big.NewInt(1_00000000)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected admin to be rejected for PublishPrice, got %v", err)
	}
	if err := reg.PublishPrice(authority, "usdc", big.NewInt(1_00000000)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	price, err := adapter.NormalizedPrice("usdc")
	if err != nil {
		t.Fatalf("normalized price: %v", err)
	}
	if price.Cmp(precision.One()) != 0 {
		t.Fatalf("expected 1.0, got %s", precision.Format(price))
	}
	feed, err := reg.Feed("usdc")
	if err != nil || feed == nil {
		t.Fatalf("feed: %v", err)
	}
	if feed.Timestamp != 1_700_000_000 {
		t.Fatalf("unexpected timestamp %d", feed.Timestamp)
	}

	if err := reg.DeleteFeed(admin, "usdc"); err != nil {
		t.Fatalf("delete feed: %v", err)
	}
	if err := reg.DeleteFeed(admin, "usdc"); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("expected ErrFeedNotFound, got %v", err)
	}
	if _, err := adapter.NormalizedPrice("usdc"); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected deleted feed to read as zero, got %v", err)
	}

	var kinds []string
	for _, evt := range buf.Events() {
		kinds = append(kinds, evt.EventType())
	}
	want := []string{events.TypeSetFeed, events.TypePriceUpdated, events.TypeDeleteFeed}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected events %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestSetFeedPrecisionChangeResetsPrice(t *testing.T) {
	reg, _, admin, authority := newTestRegistry(t)
	if err := reg.SetFeed(admin, "weth", 8); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if err := reg.PublishPrice(authority, "weth", big.NewInt(2_000_00000000)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := reg.SetFeed(admin, "weth", 8); err != nil {
		t.Fatalf("set feed again: %v", err)
	}
	feed, _ := reg.Feed("weth")
	if feed.Price.Sign() == 0 {
		t.Fatalf("same precision must keep the reading")
	}
	if err := reg.SetFeed(admin, "weth", 18); err != nil {
		t.Fatalf("set feed precision: %v", err)
	}
	feed, _ = reg.Feed("weth")
	if feed.Price.Sign() != 0 {
		t.Fatalf("precision change must reset the reading, got %s", feed.Price)
	}
}
