package bond

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/core/types"
	"bondledger/crypto"
	nativecommon "bondledger/native/common"
	"bondledger/native/asset"
	"bondledger/native/oracle"
	"bondledger/native/precision"
	"bondledger/native/registry"
	"bondledger/native/vault"
	"bondledger/storage"
)

const (
	testNow        = 1_700_000_000
	testExpiration = 1_800_000_000
)

type fixture struct {
	st         *state.Manager
	reg        *registry.Registry
	assets     *asset.Ledger
	feed       oracle.StaticFeed
	vaults     *vault.Ledger
	engine     *Engine
	buf        *events.Buffer
	clock      time.Time
	admin      crypto.Address
	issuer     crypto.Address
	borrower   crypto.Address
	liquidator crypto.Address
	bond       crypto.Address
	spec       *types.BondSpec
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), precision.One())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	f := &fixture{
		st:         st,
		feed:       oracle.StaticFeed{},
		buf:        &events.Buffer{},
		clock:      time.Unix(testNow, 0),
		admin:      crypto.ContractAddress("admin"),
		issuer:     crypto.ContractAddress("issuer"),
		borrower:   crypto.ContractAddress("borrower"),
		liquidator: crypto.ContractAddress("liquidator"),
	}
	if err := st.SetIdentity(state.SlotRegistryAdmin, f.admin.Bytes()); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	if err := st.RegisterToken("WETH", "Wrapped Ether", 18, f.issuer.Bytes()); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	if err := st.RegisterToken("USDC", "USD Coin", 6, f.issuer.Bytes()); err != nil {
		t.Fatalf("register underlying: %v", err)
	}
	f.feed.Set("WETH", big.NewInt(100_00000000), 8)
	f.feed.Set("USDC", big.NewInt(1_00000000), 8)
	f.reg = registry.New(st)
	f.assets = asset.NewLedger(st)
	f.vaults = vault.NewLedger(st, f.reg, oracle.NewAdapter(f.feed), f.assets)
	f.engine = NewEngine(st, f.reg, f.vaults, f.assets)
	f.engine.SetClock(func() time.Time { return f.clock })
	f.reg.SetEmitter(f.buf)
	f.assets.SetEmitter(f.buf)
	f.vaults.SetEmitter(f.buf)
	f.engine.SetEmitter(f.buf)

	spec, err := f.engine.Issue(f.admin, &types.BondSpec{
		Symbol:           "husdc",
		Name:             "hUSDC Dec 2026",
		UnderlyingSymbol: "usdc",
		CollateralSymbol: "weth",
		ExpirationTime:   testExpiration,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.spec = spec
	f.bond = crypto.NewAddress(crypto.ContractPrefix, spec.Address)
	if err := f.reg.ListBond(f.admin, f.bond); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := f.reg.SetDebtCeiling(f.admin, f.bond, units(1_000_000)); err != nil {
		t.Fatalf("set ceiling: %v", err)
	}
	f.buf.Reset()
	return f
}

// lock funds, opens and collateralizes the account's vault.
func (f *fixture) lock(t *testing.T, account crypto.Address, collateral *big.Int) {
	t.Helper()
	if err := f.assets.Mint(f.issuer, "WETH", account, collateral); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	if err := f.vaults.OpenVault(account, f.bond); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.vaults.DepositCollateral(account, f.bond, collateral); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.vaults.LockCollateral(account, f.bond, collateral); err != nil {
		t.Fatalf("lock: %v", err)
	}
}

func (f *fixture) pool() crypto.Address {
	return crypto.NewAddress(crypto.ContractPrefix, f.spec.RedemptionPool)
}

func (f *fixture) bondBalance(t *testing.T, account crypto.Address) *big.Int {
	t.Helper()
	bal, err := f.assets.BalanceOf(account, f.spec.Symbol)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, evt := range f.buf.Events() {
		out = append(out, evt.EventType())
	}
	return out
}

func TestIssueDerivesIdentities(t *testing.T) {
	f := newFixture(t)
	if f.spec.Symbol != "HUSDC" || f.spec.UnderlyingSymbol != "USDC" {
		t.Fatalf("expected normalised symbols, got %+v", f.spec)
	}
	if !f.bond.Equal(DefaultAddress("HUSDC")) || !f.pool().Equal(DefaultRedemptionPool("husdc")) {
		t.Fatalf("unexpected derived identities")
	}
	meta, err := f.st.Token("HUSDC")
	if err != nil || meta == nil {
		t.Fatalf("bond token not registered: %v", err)
	}
	if meta.Decimals != 18 {
		t.Fatalf("expected 18 decimals, got %d", meta.Decimals)
	}
	if _, err := f.engine.Issue(f.admin, &types.BondSpec{Symbol: "HUSDC", UnderlyingSymbol: "USDC", CollateralSymbol: "WETH", ExpirationTime: testExpiration}); !errors.Is(err, ErrBondExists) {
		t.Fatalf("expected ErrBondExists, got %v", err)
	}
	if _, err := f.engine.Issue(f.borrower, &types.BondSpec{Symbol: "HX", UnderlyingSymbol: "USDC", CollateralSymbol: "WETH", ExpirationTime: testExpiration}); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := f.engine.Issue(f.admin, &types.BondSpec{Symbol: "HX", UnderlyingSymbol: "DAI", CollateralSymbol: "WETH", ExpirationTime: testExpiration}); !errors.Is(err, ErrInvalidBond) {
		t.Fatalf("expected ErrInvalidBond, got %v", err)
	}
	if _, err := f.engine.Issue(f.admin, &types.BondSpec{Symbol: "HX", UnderlyingSymbol: "USDC", CollateralSymbol: "WETH", ExpirationTime: testNow}); !errors.Is(err, ErrMatured) {
		t.Fatalf("expected ErrMatured, got %v", err)
	}
}

func TestIssueRejectsForeignIdentities(t *testing.T) {
	f := newFixture(t)
	base := types.BondSpec{Symbol: "HX", UnderlyingSymbol: "USDC", CollateralSymbol: "WETH", ExpirationTime: testExpiration}

	foreignPool := base
	foreignPool.RedemptionPool = f.borrower.Bytes()
	if _, err := f.engine.Issue(f.admin, &foreignPool); !errors.Is(err, ErrInvalidBond) {
		t.Fatalf("expected ErrInvalidBond for a key-held pool, got %v", err)
	}
	foreignBond := base
	foreignBond.Address = f.liquidator.Bytes()
	if _, err := f.engine.Issue(f.admin, &foreignBond); !errors.Is(err, ErrInvalidBond) {
		t.Fatalf("expected ErrInvalidBond for a foreign bond identity, got %v", err)
	}

	derived := base
	derived.Address = DefaultAddress("hx").Bytes()
	derived.RedemptionPool = DefaultRedemptionPool("hx").Bytes()
	spec, err := f.engine.Issue(f.admin, &derived)
	if err != nil {
		t.Fatalf("issue with derived identities: %v", err)
	}
	if !DefaultRedemptionPool("HX").Equal(crypto.NewAddress(crypto.ContractPrefix, spec.RedemptionPool)) {
		t.Fatalf("unexpected redemption pool")
	}
}

func TestBorrowRecordsDebtAndRatio(t *testing.T) {
	f := newFixture(t)
	f.lock(t, f.borrower, units(10))
	f.buf.Reset()
	if err := f.engine.Borrow(f.borrower, f.bond, units(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	ratio, err := f.vaults.GetCurrentCollateralizationRatio(f.bond, f.borrower)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if ratio.Cmp(precision.Percent(1000)) != 0 {
		t.Fatalf("expected 1000%%, got %s", precision.Format(ratio))
	}
	if f.bondBalance(t, f.borrower).Cmp(units(100)) != 0 {
		t.Fatalf("expected borrowed tokens in wallet")
	}
	kinds := f.eventTypes()
	if len(kinds) != 3 || kinds[0] != events.TypeTransfer || kinds[1] != events.TypeSetVaultDebt || kinds[2] != events.TypeBorrow {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestBorrowGuards(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Borrow(f.borrower, f.bond, units(1)); !errors.Is(err, vault.ErrVaultNotOpen) {
		t.Fatalf("expected ErrVaultNotOpen, got %v", err)
	}
	f.lock(t, f.borrower, units(10))
	if err := f.engine.Borrow(f.borrower, f.bond, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := f.engine.Borrow(f.borrower, f.bond, units(700)); !errors.Is(err, vault.ErrBelowCollateralizationRatio) {
		t.Fatalf("expected ErrBelowCollateralizationRatio, got %v", err)
	}
	if err := f.reg.SetDebtCeiling(f.admin, f.bond, units(50)); err != nil {
		t.Fatalf("set ceiling: %v", err)
	}
	if err := f.engine.Borrow(f.borrower, f.bond, units(51)); !errors.Is(err, ErrDebtCeilingOverflow) {
		t.Fatalf("expected ErrDebtCeilingOverflow, got %v", err)
	}
	if err := f.reg.SetAllowed(f.admin, f.bond, registry.FlagBorrow, false); err != nil {
		t.Fatalf("set allowed: %v", err)
	}
	if err := f.engine.Borrow(f.borrower, f.bond, units(1)); !errors.Is(err, ErrBorrowNotAllowed) {
		t.Fatalf("expected ErrBorrowNotAllowed, got %v", err)
	}
	f.clock = time.Unix(testExpiration, 0)
	if err := f.engine.Borrow(f.borrower, f.bond, units(1)); !errors.Is(err, ErrMatured) {
		t.Fatalf("expected ErrMatured, got %v", err)
	}
	matured, err := f.engine.IsMatured(f.bond)
	if err != nil || !matured {
		t.Fatalf("expected bond to be matured at expiration, got %v err %v", matured, err)
	}
}

func TestBorrowAtRequiredRatio(t *testing.T) {
	f := newFixture(t)
	f.lock(t, f.borrower, units(15))
	// 15 * $100 against 1000 debt is exactly 150%.
	if err := f.engine.Borrow(f.borrower, f.bond, units(1000)); err != nil {
		t.Fatalf("borrow at required ratio: %v", err)
	}
	if err := f.engine.Borrow(f.borrower, f.bond, big.NewInt(1)); !errors.Is(err, vault.ErrBelowCollateralizationRatio) {
		t.Fatalf("expected ErrBelowCollateralizationRatio, got %v", err)
	}
}

func TestRepayBorrow(t *testing.T) {
	f := newFixture(t)
	f.lock(t, f.borrower, units(10))
	if err := f.engine.Borrow(f.borrower, f.bond, units(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.RepayBorrow(f.borrower, f.bond, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := f.engine.RepayBorrow(f.borrower, f.bond, units(101)); !errors.Is(err, ErrRepayBorrowInsufficientDebt) {
		t.Fatalf("expected ErrRepayBorrowInsufficientDebt, got %v", err)
	}
	f.buf.Reset()
	if err := f.engine.RepayBorrow(f.borrower, f.bond, units(40)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	debt, _ := f.vaults.GetVaultDebt(f.bond, f.borrower)
	if debt.Cmp(units(60)) != 0 {
		t.Fatalf("expected debt 60, got %s", debt)
	}
	supply, _ := f.assets.TotalSupply(f.spec.Symbol)
	if supply.Cmp(units(60)) != 0 {
		t.Fatalf("expected supply 60, got %s", supply)
	}
	last := f.buf.Events()[len(f.buf.Events())-1].Event()
	if last.Type != events.TypeRepayBorrow || last.Attributes["newDebt"] != units(60).String() {
		t.Fatalf("unexpected repay event %+v", last)
	}
}

func TestRepayBorrowBehalf(t *testing.T) {
	f := newFixture(t)
	f.lock(t, f.borrower, units(10))
	if err := f.engine.Borrow(f.borrower, f.bond, units(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	helper := crypto.ContractAddress("helper")
	if err := f.engine.RepayBorrowBehalf(helper, f.bond, f.borrower, units(10)); !errors.Is(err, ErrRepayBorrowInsufficientBalance) {
		t.Fatalf("expected ErrRepayBorrowInsufficientBalance, got %v", err)
	}
	if err := f.engine.Mint(f.pool(), f.bond, helper, units(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.engine.RepayBorrowBehalf(helper, f.bond, f.borrower, units(10)); err != nil {
		t.Fatalf("repay behalf: %v", err)
	}
	debt, _ := f.vaults.GetVaultDebt(f.bond, f.borrower)
	if debt.Cmp(units(90)) != 0 {
		t.Fatalf("expected debt 90, got %s", debt)
	}
	if f.bondBalance(t, helper).Sign() != 0 {
		t.Fatalf("expected payer balance to be burned")
	}
	if err := f.reg.SetAllowed(f.admin, f.bond, registry.FlagRepayBorrow, false); err != nil {
		t.Fatalf("set allowed: %v", err)
	}
	if err := f.engine.RepayBorrow(f.borrower, f.bond, units(1)); !errors.Is(err, ErrRepayBorrowNotAllowed) {
		t.Fatalf("expected ErrRepayBorrowNotAllowed, got %v", err)
	}
}

func TestLiquidateUnderwaterVaultClutchesCollateral(t *testing.T) {
	f := newFixture(t)
	f.lock(t, f.borrower, units(10))
	if err := f.engine.Borrow(f.borrower, f.bond, units(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.Mint(f.pool(), f.bond, f.liquidator, units(50)); err != nil {
		t.Fatalf("mint liquidator balance: %v", err)
	}
	if err := f.engine.LiquidateBorrow(f.liquidator, f.bond, f.borrower, units(50)); !errors.Is(err, ErrAccountNotUnderwater) {
		t.Fatalf("expected ErrAccountNotUnderwater, got %v", err)
	}

	f.feed.Set("WETH", big.NewInt(12_00000000), 8)
	if err := f.engine.LiquidateBorrow(f.borrower, f.bond, f.borrower, units(50)); !errors.Is(err, ErrLiquidateBorrowSelf) {
		t.Fatalf("expected ErrLiquidateBorrowSelf, got %v", err)
	}
	f.buf.Reset()
	if err := f.engine.LiquidateBorrow(f.liquidator, f.bond, f.borrower, units(50)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	clutched, _ := new(big.Int).SetString("4583333333333333333", 10)
	locked, _ := f.vaults.GetVaultLockedCollateral(f.bond, f.borrower)
	if want := new(big.Int).Sub(units(10), clutched); locked.Cmp(want) != 0 {
		t.Fatalf("expected locked %s, got %s", want, locked)
	}
	debt, _ := f.vaults.GetVaultDebt(f.bond, f.borrower)
	if debt.Cmp(units(50)) != 0 {
		t.Fatalf("expected debt 50, got %s", debt)
	}
	received, _ := f.assets.BalanceOf(f.liquidator, "WETH")
	if received.Cmp(clutched) != 0 {
		t.Fatalf("expected liquidator to receive %s, got %s", clutched, received)
	}
	if f.bondBalance(t, f.liquidator).Sign() != 0 {
		t.Fatalf("expected liquidator bond balance to be burned")
	}
	kinds := f.eventTypes()
	want := []string{
		events.TypeTransfer,
		events.TypeSetVaultDebt,
		events.TypeRepayBorrow,
		events.TypeTransfer,
		events.TypeClutchCollateral,
		events.TypeLiquidateBorrow,
	}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected events %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestLiquidationGuards(t *testing.T) {
	f := newFixture(t)
	f.lock(t, f.borrower, units(10))
	if err := f.engine.Borrow(f.borrower, f.bond, units(600)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.LiquidateBorrow(f.liquidator, f.bond, f.borrower, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	// At $50 the vault is at 83% and repaying 600 would clutch 13.2 units.
	f.feed.Set("WETH", big.NewInt(50_00000000), 8)
	if err := f.engine.Mint(f.pool(), f.bond, f.liquidator, units(600)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.engine.LiquidateBorrow(f.liquidator, f.bond, f.borrower, units(600)); !errors.Is(err, ErrInsufficientLockedCollateral) {
		t.Fatalf("expected ErrInsufficientLockedCollateral, got %v", err)
	}
	if err := f.reg.SetAllowed(f.admin, f.bond, registry.FlagLiquidateBorrow, false); err != nil {
		t.Fatalf("set allowed: %v", err)
	}
	if err := f.engine.LiquidateBorrow(f.liquidator, f.bond, f.borrower, units(1)); !errors.Is(err, ErrLiquidateBorrowNotAllowed) {
		t.Fatalf("expected ErrLiquidateBorrowNotAllowed, got %v", err)
	}
}

func TestMintAndBurnRequireRedemptionPool(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Mint(f.borrower, f.bond, f.borrower, units(1)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := f.engine.Mint(f.pool(), f.bond, f.borrower, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := f.engine.Mint(f.pool(), f.bond, f.borrower, units(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.engine.Burn(f.borrower, f.bond, f.borrower, units(1)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := f.engine.Burn(f.pool(), f.bond, f.borrower, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := f.engine.Burn(f.pool(), f.bond, f.borrower, units(6)); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := f.engine.Burn(f.pool(), f.bond, f.borrower, units(5)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	f.clock = time.Unix(testExpiration+1, 0)
	if err := f.engine.Mint(f.pool(), f.bond, f.borrower, units(1)); !errors.Is(err, ErrMatured) {
		t.Fatalf("expected ErrMatured, got %v", err)
	}
}

func TestPausedBondRejectsMutations(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPauses(nativecommon.NewPauses("bond"))
	if err := f.engine.Borrow(f.borrower, f.bond, units(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
