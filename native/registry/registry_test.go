package registry

import (
	"errors"
	"math/big"
	"testing"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/core/types"
	"bondledger/crypto"
	"bondledger/native/precision"
	"bondledger/storage"
)

type fixture struct {
	st    *state.Manager
	reg   *Registry
	buf   *events.Buffer
	admin crypto.Address
	bond  crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	admin := crypto.ContractAddress("admin")
	bond := crypto.ContractAddress("bond:HUSDC")
	if err := st.SetIdentity(state.SlotRegistryAdmin, admin.Bytes()); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	for _, token := range []struct {
		symbol   string
		decimals uint8
		auth     []byte
	}{
		{"USDC", 6, nil},
		{"WETH", 18, nil},
		{"HUSDC", 18, bond.Bytes()},
	} {
		if err := st.RegisterToken(token.symbol, token.symbol, token.decimals, token.auth); err != nil {
			t.Fatalf("register %s: %v", token.symbol, err)
		}
	}
	spec := &types.BondSpec{
		Address:          bond.Bytes(),
		Symbol:           "HUSDC",
		Name:             "hUSDC",
		UnderlyingSymbol: "USDC",
		CollateralSymbol: "WETH",
		ExpirationTime:   2_000_000_000,
	}
	if err := st.PutBondSpec(spec); err != nil {
		t.Fatalf("put spec: %v", err)
	}
	buf := &events.Buffer{}
	reg := New(st)
	reg.SetEmitter(buf)
	return &fixture{st: st, reg: reg, buf: buf, admin: admin, bond: bond}
}

func (f *fixture) list(t *testing.T) {
	t.Helper()
	if err := f.reg.ListBond(f.admin, f.bond); err != nil {
		t.Fatalf("list bond: %v", err)
	}
}

func TestListBondDefaults(t *testing.T) {
	f := newFixture(t)
	entry, err := f.reg.GetBond(f.bond)
	if err != nil {
		t.Fatalf("get bond: %v", err)
	}
	if entry.IsListed || entry.CollateralizationRatio.Sign() != 0 {
		t.Fatalf("unlisted bond must read as zero value: %+v", entry)
	}

	f.list(t)
	entry, err = f.reg.GetBond(f.bond)
	if err != nil {
		t.Fatalf("get bond: %v", err)
	}
	if !entry.IsListed {
		t.Fatalf("expected bond to be listed")
	}
	if entry.CollateralizationRatio.Cmp(precision.Percent(150)) != 0 {
		t.Fatalf("unexpected default ratio %s", entry.CollateralizationRatio)
	}
	if entry.LiquidationIncentive.Cmp(precision.Percent(110)) != 0 {
		t.Fatalf("unexpected default incentive %s", entry.LiquidationIncentive)
	}
	if entry.DebtCeiling.Sign() != 0 {
		t.Fatalf("expected zero default ceiling, got %s", entry.DebtCeiling)
	}
	for _, flag := range Flags {
		allowed, err := f.reg.Allowed(f.bond, flag)
		if err != nil || !allowed {
			t.Fatalf("flag %s: expected allowed, got %v err %v", flag, allowed, err)
		}
	}
	if got := f.buf.Events(); len(got) != 1 || got[0].EventType() != events.TypeListBond {
		t.Fatalf("expected a single ListBond event, got %v", got)
	}
}

func TestListBondRequiresAdminAndCompliance(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.ListBond(crypto.ContractAddress("mallory"), f.bond); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := f.reg.ListBond(f.admin, crypto.ContractAddress("unknown")); !errors.Is(err, ErrBondNotCompliant) {
		t.Fatalf("expected ErrBondNotCompliant, got %v", err)
	}
}

func TestSettersRequireListing(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.SetCollateralizationRatio(f.admin, f.bond, precision.Percent(200)); !errors.Is(err, ErrBondNotListed) {
		t.Fatalf("expected ErrBondNotListed, got %v", err)
	}
	if err := f.reg.SetDebtCeiling(f.admin, f.bond, precision.One()); !errors.Is(err, ErrBondNotListed) {
		t.Fatalf("expected ErrBondNotListed, got %v", err)
	}
	if err := f.reg.SetLiquidationIncentive(f.admin, f.bond, precision.Percent(120)); !errors.Is(err, ErrBondNotListed) {
		t.Fatalf("expected ErrBondNotListed, got %v", err)
	}
	if err := f.reg.SetAllowed(f.admin, f.bond, FlagBorrow, false); !errors.Is(err, ErrBondNotListed) {
		t.Fatalf("expected ErrBondNotListed, got %v", err)
	}
	if _, err := f.reg.Allowed(f.bond, FlagBorrow); !errors.Is(err, ErrBondNotListed) {
		t.Fatalf("expected flag getter to fail on unlisted bond, got %v", err)
	}
	listed, err := f.reg.IsBondListed(f.bond)
	if err != nil || listed {
		t.Fatalf("expected unlisted bond, got %v err %v", listed, err)
	}
}

func TestCollateralizationRatioBounds(t *testing.T) {
	f := newFixture(t)
	f.list(t)
	cases := []struct {
		name  string
		ratio *big.Int
		err   error
	}{
		{"below floor", precision.Percent(99), ErrCollateralizationRatioUnderflow},
		{"floor", precision.Percent(100), nil},
		{"ceiling", precision.Percent(10_000), nil},
		{"above ceiling", precision.Percent(10_001), ErrCollateralizationRatioOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.reg.SetCollateralizationRatio(f.admin, f.bond, tc.ratio)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
	ratio, _ := f.reg.CollateralizationRatio(f.bond)
	if ratio.Cmp(precision.Percent(10_000)) != 0 {
		t.Fatalf("expected last accepted ratio to stick, got %s", ratio)
	}
}

func TestLiquidationIncentiveBounds(t *testing.T) {
	f := newFixture(t)
	f.list(t)
	if err := f.reg.SetLiquidationIncentive(f.admin, f.bond, precision.Percent(99)); !errors.Is(err, ErrLiquidationIncentiveUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if err := f.reg.SetLiquidationIncentive(f.admin, f.bond, precision.Percent(151)); !errors.Is(err, ErrLiquidationIncentiveOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	f.buf.Reset()
	if err := f.reg.SetLiquidationIncentive(f.admin, f.bond, precision.Percent(150)); err != nil {
		t.Fatalf("set incentive: %v", err)
	}
	got := f.buf.Events()
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	attrs := got[0].Event().Attributes
	if attrs["old"] != precision.Percent(110).String() || attrs["new"] != precision.Percent(150).String() {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestDebtCeilingZeroAndUnderflow(t *testing.T) {
	f := newFixture(t)
	f.list(t)
	if err := f.reg.SetDebtCeiling(f.admin, f.bond, big.NewInt(0)); !errors.Is(err, ErrDebtCeilingZero) {
		t.Fatalf("expected ErrDebtCeilingZero, got %v", err)
	}
	supply := new(big.Int).Mul(big.NewInt(100), precision.One())
	if err := f.st.SetTotalSupply("HUSDC", supply); err != nil {
		t.Fatalf("set supply: %v", err)
	}
	below := new(big.Int).Sub(supply, big.NewInt(1))
	if err := f.reg.SetDebtCeiling(f.admin, f.bond, below); !errors.Is(err, ErrDebtCeilingUnderflow) {
		t.Fatalf("expected ErrDebtCeilingUnderflow, got %v", err)
	}
	if err := f.reg.SetDebtCeiling(f.admin, f.bond, supply); err != nil {
		t.Fatalf("ceiling equal to supply must be accepted: %v", err)
	}
}

func TestSetAllowedRecordsOldAndNew(t *testing.T) {
	f := newFixture(t)
	f.list(t)
	f.buf.Reset()
	if err := f.reg.SetAllowed(f.admin, f.bond, FlagDepositCollateral, false); err != nil {
		t.Fatalf("set allowed: %v", err)
	}
	allowed, err := f.reg.Allowed(f.bond, FlagDepositCollateral)
	if err != nil || allowed {
		t.Fatalf("expected deposits disabled, got %v err %v", allowed, err)
	}
	got := f.buf.Events()
	if len(got) != 1 || got[0].EventType() != "registry.set_deposit_collateral_allowed" {
		t.Fatalf("unexpected events %v", got)
	}
	if err := f.reg.SetAllowed(f.admin, f.bond, Flag("nope"), true); !errors.Is(err, ErrUnknownFlag) {
		t.Fatalf("expected ErrUnknownFlag, got %v", err)
	}
}

func TestTransferAdmin(t *testing.T) {
	f := newFixture(t)
	next := crypto.ContractAddress("next")
	if err := f.reg.TransferAdmin(next, next); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := f.reg.TransferAdmin(f.admin, next); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}
	admin, err := f.reg.Admin()
	if err != nil || !admin.Equal(next) {
		t.Fatalf("expected new admin, got %s err %v", admin, err)
	}
	if err := f.reg.ListBond(f.admin, f.bond); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("previous admin must lose access, got %v", err)
	}
}

func TestParseFlag(t *testing.T) {
	for _, name := range []string{"deposit_collateral", "depositCollateral"} {
		flag, ok := ParseFlag(name)
		if !ok || flag != FlagDepositCollateral {
			t.Fatalf("ParseFlag(%q) = %q, %v", name, flag, ok)
		}
	}
	if _, ok := ParseFlag("deposit"); ok {
		t.Fatalf("expected unknown flag to be rejected")
	}
}
