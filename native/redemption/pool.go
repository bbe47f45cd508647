// Package redemption implements the redemption pool of each bond: underlying
// is supplied in exchange for freshly minted bonds before maturity, and bonds
// are redeemed one-for-one for underlying afterwards.
package redemption

import (
	"fmt"
	"math/big"
	"time"

	"bondledger/core/events"
	"bondledger/core/types"
	"bondledger/crypto"
	nativecommon "bondledger/native/common"
	"bondledger/native/bond"
	"bondledger/native/precision"
	"bondledger/native/registry"
)

const moduleName = "redemption"

type bondRegistry interface {
	Spec(bond crypto.Address) (*types.BondSpec, error)
	Allowed(bond crypto.Address, flag registry.Flag) (bool, error)
}

type bondToken interface {
	Mint(caller, bond, beneficiary crypto.Address, amount *big.Int) error
	Burn(caller, bond, holder crypto.Address, amount *big.Int) error
}

type assetLedger interface {
	Decimals(symbol string) (uint8, error)
	BalanceOf(addr crypto.Address, symbol string) (*big.Int, error)
	Transfer(from, to crypto.Address, symbol string, amount *big.Int) error
}

// Pool serves every bond's redemption pool. Underlying is held under the
// pool identity recorded in the bond spec.
type Pool struct {
	registry bondRegistry
	bonds    bondToken
	assets   assetLedger
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	now      func() time.Time
}

func NewPool(reg bondRegistry, bonds bondToken, assets assetLedger) *Pool {
	return &Pool{registry: reg, bonds: bonds, assets: assets, emitter: events.NoopEmitter{}, now: time.Now}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

func (p *Pool) SetPauses(pauses nativecommon.PauseView) {
	if p == nil {
		return
	}
	p.pauses = pauses
}

// SetClock overrides the time source maturity is evaluated against.
func (p *Pool) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

func (p *Pool) allowed(addr crypto.Address, flag registry.Flag, denied error) error {
	ok, err := p.registry.Allowed(addr, flag)
	if err != nil {
		return err
	}
	if !ok {
		return denied
	}
	return nil
}

// SupplyUnderlying moves underlyingAmount from the caller into the pool and
// mints the equivalent amount of bonds to the caller.
func (p *Pool) SupplyUnderlying(caller, addr crypto.Address, underlyingAmount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	spec, err := p.registry.Spec(addr)
	if err != nil {
		return nil, err
	}
	if spec.IsMatured(uint64(p.now().Unix())) {
		return nil, bond.ErrMatured
	}
	if underlyingAmount == nil || underlyingAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := p.allowed(addr, registry.FlagSupplyUnderlying, ErrSupplyUnderlyingNotAllowed); err != nil {
		return nil, err
	}
	decimals, err := p.assets.Decimals(spec.UnderlyingSymbol)
	if err != nil {
		return nil, err
	}
	bondAmount, err := precision.Normalize(underlyingAmount, decimals)
	if err != nil {
		return nil, err
	}
	pool := crypto.NewAddress(crypto.ContractPrefix, spec.RedemptionPool)
	if err := p.assets.Transfer(caller, pool, spec.UnderlyingSymbol, underlyingAmount); err != nil {
		return nil, err
	}
	if err := p.bonds.Mint(pool, addr, caller, bondAmount); err != nil {
		return nil, err
	}
	p.emitter.Emit(events.SupplyUnderlying{
		Bond:             addr,
		Supplier:         caller,
		UnderlyingAmount: underlyingAmount,
		BondAmount:       bondAmount,
	})
	return bondAmount, nil
}

// RedeemBonds burns bondAmount of the caller's bonds after maturity and pays
// out the underlying equivalent, truncated to the underlying's precision.
func (p *Pool) RedeemBonds(caller, addr crypto.Address, bondAmount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	spec, err := p.registry.Spec(addr)
	if err != nil {
		return nil, err
	}
	if !spec.IsMatured(uint64(p.now().Unix())) {
		return nil, bond.ErrNotMatured
	}
	if bondAmount == nil || bondAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := p.allowed(addr, registry.FlagRedeem, ErrRedeemNotAllowed); err != nil {
		return nil, err
	}
	decimals, err := p.assets.Decimals(spec.UnderlyingSymbol)
	if err != nil {
		return nil, err
	}
	underlyingAmount, err := precision.Denormalize(bondAmount, decimals)
	if err != nil {
		return nil, err
	}
	if underlyingAmount.Sign() == 0 {
		return nil, ErrRedeemAmountBelowPrecision
	}
	pool := crypto.NewAddress(crypto.ContractPrefix, spec.RedemptionPool)
	reserve, err := p.assets.BalanceOf(pool, spec.UnderlyingSymbol)
	if err != nil {
		return nil, err
	}
	if reserve.Cmp(underlyingAmount) < 0 {
		return nil, fmt.Errorf("%w: reserve %s, needs %s", ErrInsufficientUnderlying, reserve, underlyingAmount)
	}
	if err := p.bonds.Burn(pool, addr, caller, bondAmount); err != nil {
		return nil, err
	}
	if err := p.assets.Transfer(pool, caller, spec.UnderlyingSymbol, underlyingAmount); err != nil {
		return nil, err
	}
	p.emitter.Emit(events.RedeemBonds{
		Bond:             addr,
		Redeemer:         caller,
		BondAmount:       bondAmount,
		UnderlyingAmount: underlyingAmount,
	})
	return underlyingAmount, nil
}
