// Package vault implements the Vault Ledger: custody of collateral and the
// per-(bond, account) debt bookkeeping, together with the collateralization
// and liquidation arithmetic.
package vault

import (
	"math/big"

	"bondledger/core/events"
	"bondledger/core/types"
	"bondledger/crypto"
	nativecommon "bondledger/native/common"
	"bondledger/native/registry"
)

const moduleName = "vault"

type vaultState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

type bondRegistry interface {
	Spec(bond crypto.Address) (*types.BondSpec, error)
	Allowed(bond crypto.Address, flag registry.Flag) (bool, error)
	CollateralizationRatio(bond crypto.Address) (*big.Int, error)
	LiquidationIncentive(bond crypto.Address) (*big.Int, error)
}

// PriceSource returns USD prices with 18 fractional digits.
type PriceSource interface {
	NormalizedPrice(symbol string) (*big.Int, error)
}

type assetLedger interface {
	Decimals(symbol string) (uint8, error)
	Transfer(from, to crypto.Address, symbol string, amount *big.Int) error
}

func vaultKey(bond, account crypto.Address) []byte {
	key := make([]byte, 0, len("vault/")+2*crypto.AddressLength+1)
	key = append(key, "vault/"...)
	key = append(key, bond.Bytes()...)
	key = append(key, '/')
	return append(key, account.Bytes()...)
}

// vaultIndexKey lists every account that has opened a vault for bond, in
// opening order.
func vaultIndexKey(bond crypto.Address) []byte {
	key := make([]byte, 0, len("vault-index/")+crypto.AddressLength)
	key = append(key, "vault-index/"...)
	return append(key, bond.Bytes()...)
}

// Ledger is the Vault Ledger.
type Ledger struct {
	st       vaultState
	registry bondRegistry
	prices   PriceSource
	assets   assetLedger
	emitter  events.Emitter
	pauses   nativecommon.PauseView
}

func NewLedger(st vaultState, reg bondRegistry, prices PriceSource, assets assetLedger) *Ledger {
	return &Ledger{st: st, registry: reg, prices: prices, assets: assets, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

func (l *Ledger) load(bond, account crypto.Address) (Vault, error) {
	var v Vault
	if _, err := l.st.KVGet(vaultKey(bond, account), &v); err != nil {
		return Vault{}, err
	}
	v.ensureDefaults()
	return v, nil
}

func (l *Ledger) store(bond, account crypto.Address, v Vault) error {
	return l.st.KVPut(vaultKey(bond, account), v)
}

func (l *Ledger) open(bond, account crypto.Address) (Vault, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return Vault{}, err
	}
	if !v.IsOpen {
		return Vault{}, ErrVaultNotOpen
	}
	return v, nil
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

func onlyBond(caller, bond crypto.Address) error {
	if !caller.Equal(bond) {
		return ErrNotAuthorized
	}
	return nil
}

// OpenVault opens the caller's vault for a compliant bond.
func (l *Ledger) OpenVault(caller, bond crypto.Address) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if _, err := l.registry.Spec(bond); err != nil {
		return err
	}
	v, err := l.load(bond, caller)
	if err != nil {
		return err
	}
	if v.IsOpen {
		return ErrVaultOpen
	}
	v.IsOpen = true
	if err := l.store(bond, caller, v); err != nil {
		return err
	}
	if err := l.st.KVAppend(vaultIndexKey(bond), caller.Bytes()); err != nil {
		return err
	}
	l.emitter.Emit(events.OpenVault{Bond: bond, Account: caller})
	return nil
}

// DepositCollateral pulls amount of the bond's collateral asset from the
// caller into custody and credits it as free collateral.
func (l *Ledger) DepositCollateral(caller, bond crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	v, err := l.open(bond, caller)
	if err != nil {
		return err
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	allowed, err := l.registry.Allowed(bond, registry.FlagDepositCollateral)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrDepositCollateralNotAllowed
	}
	spec, err := l.registry.Spec(bond)
	if err != nil {
		return err
	}
	if err := l.assets.Transfer(caller, CustodyAddress, spec.CollateralSymbol, amount); err != nil {
		return err
	}
	v.FreeCollateral = new(big.Int).Add(v.FreeCollateral, amount)
	if err := l.store(bond, caller, v); err != nil {
		return err
	}
	l.emitter.Emit(events.DepositCollateral{Bond: bond, Account: caller, Amount: amount})
	return nil
}

// WithdrawCollateral returns free collateral to the caller.
func (l *Ledger) WithdrawCollateral(caller, bond crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	v, err := l.open(bond, caller)
	if err != nil {
		return err
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	if v.FreeCollateral.Cmp(amount) < 0 {
		return ErrInsufficientFreeCollateral
	}
	spec, err := l.registry.Spec(bond)
	if err != nil {
		return err
	}
	v.FreeCollateral = new(big.Int).Sub(v.FreeCollateral, amount)
	if err := l.store(bond, caller, v); err != nil {
		return err
	}
	if err := l.assets.Transfer(CustodyAddress, caller, spec.CollateralSymbol, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.WithdrawCollateral{Bond: bond, Account: caller, Amount: amount})
	return nil
}

// LockCollateral pledges free collateral against debt.
func (l *Ledger) LockCollateral(caller, bond crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	v, err := l.open(bond, caller)
	if err != nil {
		return err
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	if v.FreeCollateral.Cmp(amount) < 0 {
		return ErrInsufficientFreeCollateral
	}
	v.FreeCollateral = new(big.Int).Sub(v.FreeCollateral, amount)
	v.LockedCollateral = new(big.Int).Add(v.LockedCollateral, amount)
	if err := l.store(bond, caller, v); err != nil {
		return err
	}
	l.emitter.Emit(events.LockCollateral{Bond: bond, Account: caller, Amount: amount})
	return nil
}

// FreeCollateral releases locked collateral. A vault with debt must still
// meet the bond's collateralization ratio afterwards.
func (l *Ledger) FreeCollateral(caller, bond crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	v, err := l.open(bond, caller)
	if err != nil {
		return err
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	if v.LockedCollateral.Cmp(amount) < 0 {
		return ErrInsufficientLockedCollateral
	}
	remaining := new(big.Int).Sub(v.LockedCollateral, amount)
	if v.Debt.Sign() > 0 {
		ratio, err := l.hypotheticalRatio(bond, remaining, v.Debt)
		if err != nil {
			return err
		}
		required, err := l.registry.CollateralizationRatio(bond)
		if err != nil {
			return err
		}
		if ratio.Cmp(required) < 0 {
			return ErrBelowCollateralizationRatio
		}
	}
	v.LockedCollateral = remaining
	v.FreeCollateral = new(big.Int).Add(v.FreeCollateral, amount)
	if err := l.store(bond, caller, v); err != nil {
		return err
	}
	l.emitter.Emit(events.FreeCollateral{Bond: bond, Account: caller, Amount: amount})
	return nil
}
