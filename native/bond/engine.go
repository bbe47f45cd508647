// Package bond implements the bond token: issuance, borrowing against vault
// collateral, repayment and liquidation. The engine acts as every issued bond
// towards the vault ledger and the asset ledger.
package bond

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/core/types"
	"bondledger/crypto"
	nativecommon "bondledger/native/common"
	"bondledger/native/precision"
	"bondledger/native/registry"
	"bondledger/native/vault"
)

const moduleName = "bond"

type engineState interface {
	Identity(slot string) ([]byte, error)
	RegisterToken(symbol, name string, decimals uint8, authority []byte) error
	TokenExists(symbol string) bool
	PutBondSpec(spec *types.BondSpec) error
	BondSpec(addr []byte) (*types.BondSpec, error)
}

type bondRegistry interface {
	Spec(bond crypto.Address) (*types.BondSpec, error)
	IsBondListed(bond crypto.Address) (bool, error)
	Allowed(bond crypto.Address, flag registry.Flag) (bool, error)
	DebtCeiling(bond crypto.Address) (*big.Int, error)
	CollateralizationRatio(bond crypto.Address) (*big.Int, error)
}

type vaultLedger interface {
	GetVault(bond, account crypto.Address) (vault.Vault, error)
	GetHypotheticalCollateralizationRatio(bond, account crypto.Address, locked, debt *big.Int) (*big.Int, error)
	IsAccountUnderwater(bond, account crypto.Address) (bool, error)
	GetClutchableCollateral(bond crypto.Address, repayAmount *big.Int) (*big.Int, error)
	IncreaseVaultDebt(caller, bond, account crypto.Address, amount *big.Int) error
	DecreaseVaultDebt(caller, bond, account crypto.Address, amount *big.Int) error
	ClutchCollateral(caller, bond, liquidator, borrower crypto.Address, amount *big.Int) error
}

type assetLedger interface {
	Decimals(symbol string) (uint8, error)
	TotalSupply(symbol string) (*big.Int, error)
	BalanceOf(addr crypto.Address, symbol string) (*big.Int, error)
	Mint(caller crypto.Address, symbol string, to crypto.Address, amount *big.Int) error
	Burn(caller crypto.Address, symbol string, from crypto.Address, amount *big.Int) error
}

// Engine orchestrates the bond token state transitions.
type Engine struct {
	st       engineState
	registry bondRegistry
	vaults   vaultLedger
	assets   assetLedger
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	now      func() time.Time
}

func NewEngine(st engineState, reg bondRegistry, vaults vaultLedger, assets assetLedger) *Engine {
	return &Engine{
		st:       st,
		registry: reg,
		vaults:   vaults,
		assets:   assets,
		emitter:  events.NoopEmitter{},
		now:      time.Now,
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the time source maturity is evaluated against.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) timestamp() uint64 {
	return uint64(e.now().Unix())
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// DefaultAddress derives the identity of a bond from its symbol.
func DefaultAddress(symbol string) crypto.Address {
	return crypto.ContractAddress("bond:" + strings.ToUpper(strings.TrimSpace(symbol)))
}

// DefaultRedemptionPool derives the redemption pool identity of a bond.
func DefaultRedemptionPool(symbol string) crypto.Address {
	return crypto.ContractAddress("redemption:" + strings.ToUpper(strings.TrimSpace(symbol)))
}

// Issue registers a new bond token with 18 decimals and persists its spec.
// The bond and redemption pool identities are derived from the symbol; a
// spec naming any other identity is rejected.
func (e *Engine) Issue(caller crypto.Address, spec *types.BondSpec) (*types.BondSpec, error) {
	admin, err := e.st.Identity(state.SlotRegistryAdmin)
	if err != nil {
		return nil, err
	}
	if len(admin) == 0 || !bytes.Equal(admin, caller.Bytes()) {
		return nil, ErrNotAdmin
	}
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidBond)
	}
	issued := spec.Clone()
	issued.Normalize()
	if issued.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidBond)
	}
	if issued.Name == "" {
		issued.Name = issued.Symbol
	}
	for _, symbol := range []string{issued.UnderlyingSymbol, issued.CollateralSymbol} {
		decimals, err := e.assets.Decimals(symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBond, err)
		}
		if _, err := precision.Scalar(decimals); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBond, symbol, err)
		}
	}
	if issued.IsMatured(e.timestamp()) {
		return nil, ErrMatured
	}
	address := DefaultAddress(issued.Symbol).Bytes()
	pool := DefaultRedemptionPool(issued.Symbol).Bytes()
	if len(issued.Address) != 0 && !bytes.Equal(issued.Address, address) {
		return nil, fmt.Errorf("%w: bond identity must be derived from the symbol", ErrInvalidBond)
	}
	if len(issued.RedemptionPool) != 0 && !bytes.Equal(issued.RedemptionPool, pool) {
		return nil, fmt.Errorf("%w: redemption pool must be derived from the symbol", ErrInvalidBond)
	}
	issued.Address, issued.RedemptionPool = address, pool
	existing, err := e.st.BondSpec(issued.Address)
	if err != nil {
		return nil, err
	}
	if existing != nil || e.st.TokenExists(issued.Symbol) {
		return nil, fmt.Errorf("%w: %s", ErrBondExists, issued.Symbol)
	}
	if err := e.st.RegisterToken(issued.Symbol, issued.Name, precision.Decimals, issued.Address); err != nil {
		return nil, err
	}
	if err := e.st.PutBondSpec(issued); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.IssueBond{
		Bond:           crypto.NewAddress(crypto.ContractPrefix, issued.Address),
		Symbol:         issued.Symbol,
		Underlying:     issued.UnderlyingSymbol,
		Collateral:     issued.CollateralSymbol,
		ExpirationTime: issued.ExpirationTime,
	})
	return issued.Clone(), nil
}

// IsMatured reports whether bond has reached its expiration time.
func (e *Engine) IsMatured(bond crypto.Address) (bool, error) {
	spec, err := e.registry.Spec(bond)
	if err != nil {
		return false, err
	}
	return spec.IsMatured(e.timestamp()), nil
}

func (e *Engine) openVault(bond, account crypto.Address) (vault.Vault, error) {
	v, err := e.vaults.GetVault(bond, account)
	if err != nil {
		return vault.Vault{}, err
	}
	if !v.IsOpen {
		return vault.Vault{}, vault.ErrVaultNotOpen
	}
	return v, nil
}

// Borrow mints amount of the bond to the caller against the collateral locked
// in their vault.
func (e *Engine) Borrow(caller, bond crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.openVault(bond, caller)
	if err != nil {
		return err
	}
	spec, err := e.registry.Spec(bond)
	if err != nil {
		return err
	}
	if spec.IsMatured(e.timestamp()) {
		return ErrMatured
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	allowed, err := e.registry.Allowed(bond, registry.FlagBorrow)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrBorrowNotAllowed
	}
	supply, err := e.assets.TotalSupply(spec.Symbol)
	if err != nil {
		return err
	}
	ceiling, err := e.registry.DebtCeiling(bond)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(supply, amount)
	if projected.Cmp(ceiling) > 0 {
		return fmt.Errorf("%w: projected supply %s, ceiling %s", ErrDebtCeilingOverflow, projected, ceiling)
	}
	newDebt := new(big.Int).Add(v.Debt, amount)
	ratio, err := e.vaults.GetHypotheticalCollateralizationRatio(bond, caller, v.LockedCollateral, newDebt)
	if err != nil {
		return err
	}
	required, err := e.registry.CollateralizationRatio(bond)
	if err != nil {
		return err
	}
	if ratio.Cmp(required) < 0 {
		return vault.ErrBelowCollateralizationRatio
	}
	if err := e.assets.Mint(bond, spec.Symbol, caller, amount); err != nil {
		return err
	}
	if err := e.vaults.IncreaseVaultDebt(bond, bond, caller, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.Borrow{Bond: bond, Borrower: caller, Amount: amount})
	return nil
}

// RepayBorrow burns amount of the caller's bond balance against their own
// debt.
func (e *Engine) RepayBorrow(caller, bond crypto.Address, amount *big.Int) error {
	return e.repay(caller, bond, caller, amount)
}

// RepayBorrowBehalf burns amount of the caller's bond balance against the
// borrower's debt.
func (e *Engine) RepayBorrowBehalf(caller, bond, borrower crypto.Address, amount *big.Int) error {
	return e.repay(caller, bond, borrower, amount)
}

func (e *Engine) repay(payer, bond, borrower crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, err := e.openVault(bond, borrower); err != nil {
		return err
	}
	listed, err := e.registry.IsBondListed(bond)
	if err != nil {
		return err
	}
	if !listed {
		return fmt.Errorf("%w: %s", registry.ErrBondNotListed, bond)
	}
	allowed, err := e.registry.Allowed(bond, registry.FlagRepayBorrow)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRepayBorrowNotAllowed
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	return e.settle(payer, bond, borrower, amount)
}

// settle burns the payer's bond tokens and reduces the borrower's debt.
func (e *Engine) settle(payer, bond, borrower crypto.Address, amount *big.Int) error {
	spec, err := e.registry.Spec(bond)
	if err != nil {
		return err
	}
	v, err := e.vaults.GetVault(bond, borrower)
	if err != nil {
		return err
	}
	if v.Debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: debt %s, repay %s", ErrRepayBorrowInsufficientDebt, v.Debt, amount)
	}
	balance, err := e.assets.BalanceOf(payer, spec.Symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, repay %s", ErrRepayBorrowInsufficientBalance, balance, amount)
	}
	if err := e.assets.Burn(bond, spec.Symbol, payer, amount); err != nil {
		return err
	}
	if err := e.vaults.DecreaseVaultDebt(bond, bond, borrower, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.RepayBorrow{
		Bond:     bond,
		Payer:    payer,
		Borrower: borrower,
		Amount:   amount,
		NewDebt:  new(big.Int).Sub(v.Debt, amount),
	})
	return nil
}

// LiquidateBorrow repays amount of an underwater borrower's debt with the
// caller's bond balance and clutches the incentivised collateral equivalent.
func (e *Engine) LiquidateBorrow(caller, bond, borrower crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	allowed, err := e.registry.Allowed(bond, registry.FlagLiquidateBorrow)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrLiquidateBorrowNotAllowed
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	if caller.Equal(borrower) {
		return ErrLiquidateBorrowSelf
	}
	underwater, err := e.vaults.IsAccountUnderwater(bond, borrower)
	if err != nil {
		return err
	}
	if !underwater {
		return ErrAccountNotUnderwater
	}
	clutch, err := e.vaults.GetClutchableCollateral(bond, amount)
	if err != nil {
		return err
	}
	v, err := e.vaults.GetVault(bond, borrower)
	if err != nil {
		return err
	}
	if v.LockedCollateral.Cmp(clutch) < 0 {
		return fmt.Errorf("%w: locked %s, clutch %s", ErrInsufficientLockedCollateral, v.LockedCollateral, clutch)
	}
	if err := e.settle(caller, bond, borrower, amount); err != nil {
		return err
	}
	if err := e.vaults.ClutchCollateral(bond, bond, caller, borrower, clutch); err != nil {
		return err
	}
	e.emitter.Emit(events.LiquidateBorrow{
		Bond:               bond,
		Liquidator:         caller,
		Borrower:           borrower,
		RepayAmount:        amount,
		ClutchedCollateral: clutch,
	})
	return nil
}

func (e *Engine) onlyRedemptionPool(caller, bond crypto.Address) (*types.BondSpec, error) {
	spec, err := e.registry.Spec(bond)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(spec.RedemptionPool, caller.Bytes()) {
		return nil, ErrNotAuthorized
	}
	return spec, nil
}

// Mint creates bond tokens outside of the borrow flow. Only the bond's
// redemption pool may mint, and only before maturity.
func (e *Engine) Mint(caller, bond, beneficiary crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	spec, err := e.onlyRedemptionPool(caller, bond)
	if err != nil {
		return err
	}
	if spec.IsMatured(e.timestamp()) {
		return ErrMatured
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	if err := e.assets.Mint(bond, spec.Symbol, beneficiary, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.Mint{Bond: bond, Beneficiary: beneficiary, Amount: amount})
	return nil
}

// Burn destroys bond tokens outside of the repay flow. Only the bond's
// redemption pool may burn.
func (e *Engine) Burn(caller, bond, holder crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	spec, err := e.onlyRedemptionPool(caller, bond)
	if err != nil {
		return err
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	if err := e.assets.Burn(bond, spec.Symbol, holder, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.Burn{Bond: bond, Holder: holder, Amount: amount})
	return nil
}
