// Package registry implements the Bond Risk Registry: the per-bond risk
// parameters and feature switches consulted by the vault ledger and the bond
// token.
package registry

import (
	"bytes"
	"fmt"
	"math/big"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/core/types"
	"bondledger/crypto"
)

type registryState interface {
	Identity(slot string) ([]byte, error)
	SetIdentity(slot string, addr []byte) error
	BondSpec(addr []byte) (*types.BondSpec, error)
	TokenExists(symbol string) bool
	TotalSupply(symbol string) (*big.Int, error)
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func bondKey(addr crypto.Address) []byte {
	return append([]byte("registry/bond/"), addr.Bytes()...)
}

// Registry stores bond risk configuration. Every mutation requires the admin
// identity.
type Registry struct {
	st      registryState
	emitter events.Emitter
}

func New(st registryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Admin returns the current admin identity, or the zero address when unset.
func (r *Registry) Admin() (crypto.Address, error) {
	raw, err := r.st.Identity(state.SlotRegistryAdmin)
	if err != nil || len(raw) == 0 {
		return crypto.Address{}, err
	}
	return crypto.AddressFromBytes(crypto.AccountPrefix, raw)
}

func (r *Registry) onlyAdmin(caller crypto.Address) error {
	raw, err := r.st.Identity(state.SlotRegistryAdmin)
	if err != nil {
		return err
	}
	if len(raw) == 0 || !bytes.Equal(raw, caller.Bytes()) {
		return ErrNotAdmin
	}
	return nil
}

// TransferAdmin hands the admin role to next.
func (r *Registry) TransferAdmin(caller, next crypto.Address) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return ErrInvalidAdmin
	}
	if err := r.st.SetIdentity(state.SlotRegistryAdmin, next.Bytes()); err != nil {
		return err
	}
	r.emitter.Emit(events.TransferAdmin{Old: caller, New: next})
	return nil
}

// Spec returns the issued spec for bond when it passes the structural
// compliance check: the spec exists and both of its assets are registered.
func (r *Registry) Spec(bond crypto.Address) (*types.BondSpec, error) {
	spec, err := r.st.BondSpec(bond.Bytes())
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("%w: %s is not an issued bond", ErrBondNotCompliant, bond)
	}
	if !r.st.TokenExists(spec.UnderlyingSymbol) || !r.st.TokenExists(spec.CollateralSymbol) {
		return nil, fmt.Errorf("%w: %s references unregistered assets", ErrBondNotCompliant, bond)
	}
	return spec, nil
}

func (r *Registry) load(bond crypto.Address) (Bond, error) {
	var entry Bond
	if _, err := r.st.KVGet(bondKey(bond), &entry); err != nil {
		return Bond{}, err
	}
	entry.ensureDefaults()
	return entry, nil
}

func (r *Registry) listed(bond crypto.Address) (Bond, error) {
	entry, err := r.load(bond)
	if err != nil {
		return Bond{}, err
	}
	if !entry.IsListed {
		return Bond{}, fmt.Errorf("%w: %s", ErrBondNotListed, bond)
	}
	return entry, nil
}

// ListBond lists a compliant bond with the default risk parameters and every
// feature switch enabled. The debt ceiling starts at zero, so borrowing stays
// closed until the admin sets one.
func (r *Registry) ListBond(caller, bond crypto.Address) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	if _, err := r.Spec(bond); err != nil {
		return err
	}
	entry := Bond{
		IsListed:                 true,
		CollateralizationRatio:   new(big.Int).Set(DefaultCollateralizationRatio),
		DebtCeiling:              big.NewInt(0),
		LiquidationIncentive:     new(big.Int).Set(DefaultLiquidationIncentive),
		BorrowAllowed:            true,
		DepositCollateralAllowed: true,
		LiquidateBorrowAllowed:   true,
		RepayBorrowAllowed:       true,
		RedeemAllowed:            true,
		SupplyUnderlyingAllowed:  true,
	}
	if err := r.st.KVPut(bondKey(bond), entry); err != nil {
		return err
	}
	r.emitter.Emit(events.ListBond{Admin: caller, Bond: bond})
	return nil
}

// SetCollateralizationRatio requires ratio within [100%, 10000%].
func (r *Registry) SetCollateralizationRatio(caller, bond crypto.Address, ratio *big.Int) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	entry, err := r.listed(bond)
	if err != nil {
		return err
	}
	if ratio == nil || ratio.Cmp(MinCollateralizationRatio) < 0 {
		return ErrCollateralizationRatioUnderflow
	}
	if ratio.Cmp(MaxCollateralizationRatio) > 0 {
		return ErrCollateralizationRatioOverflow
	}
	old := entry.CollateralizationRatio
	entry.CollateralizationRatio = new(big.Int).Set(ratio)
	if err := r.st.KVPut(bondKey(bond), entry); err != nil {
		return err
	}
	r.emitter.Emit(events.SetBondCollateralizationRatio{Admin: caller, Bond: bond, Old: old, New: entry.CollateralizationRatio})
	return nil
}

// SetDebtCeiling rejects zero and any ceiling below the bond's outstanding
// supply.
func (r *Registry) SetDebtCeiling(caller, bond crypto.Address, ceiling *big.Int) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	entry, err := r.listed(bond)
	if err != nil {
		return err
	}
	if ceiling == nil || ceiling.Sign() <= 0 {
		return ErrDebtCeilingZero
	}
	spec, err := r.Spec(bond)
	if err != nil {
		return err
	}
	supply, err := r.st.TotalSupply(spec.Symbol)
	if err != nil {
		return err
	}
	if ceiling.Cmp(supply) < 0 {
		return fmt.Errorf("%w: ceiling %s, supply %s", ErrDebtCeilingUnderflow, ceiling, supply)
	}
	old := entry.DebtCeiling
	entry.DebtCeiling = new(big.Int).Set(ceiling)
	if err := r.st.KVPut(bondKey(bond), entry); err != nil {
		return err
	}
	r.emitter.Emit(events.SetBondDebtCeiling{Admin: caller, Bond: bond, Old: old, New: entry.DebtCeiling})
	return nil
}

// SetLiquidationIncentive requires incentive within [100%, 150%].
func (r *Registry) SetLiquidationIncentive(caller, bond crypto.Address, incentive *big.Int) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	entry, err := r.listed(bond)
	if err != nil {
		return err
	}
	if incentive == nil || incentive.Cmp(MinLiquidationIncentive) < 0 {
		return ErrLiquidationIncentiveUnderflow
	}
	if incentive.Cmp(MaxLiquidationIncentive) > 0 {
		return ErrLiquidationIncentiveOverflow
	}
	old := entry.LiquidationIncentive
	entry.LiquidationIncentive = new(big.Int).Set(incentive)
	if err := r.st.KVPut(bondKey(bond), entry); err != nil {
		return err
	}
	r.emitter.Emit(events.SetBondLiquidationIncentive{Admin: caller, Bond: bond, Old: old, New: entry.LiquidationIncentive})
	return nil
}

// SetAllowed stores a feature switch.
func (r *Registry) SetAllowed(caller, bond crypto.Address, flag Flag, value bool) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	entry, err := r.listed(bond)
	if err != nil {
		return err
	}
	field := entry.flag(flag)
	if field == nil {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	old := *field
	*field = value
	if err := r.st.KVPut(bondKey(bond), entry); err != nil {
		return err
	}
	r.emitter.Emit(events.SetAllowed{Admin: caller, Bond: bond, Flag: string(flag), Old: old, New: value})
	return nil
}

// GetBond returns the registry entry; unlisted bonds read as the zero value.
func (r *Registry) GetBond(bond crypto.Address) (Bond, error) {
	entry, err := r.load(bond)
	if err != nil {
		return Bond{}, err
	}
	return entry.Clone(), nil
}

func (r *Registry) IsBondListed(bond crypto.Address) (bool, error) {
	entry, err := r.load(bond)
	if err != nil {
		return false, err
	}
	return entry.IsListed, nil
}

// Allowed reads a feature switch. Unlike the other getters it fails with
// ErrBondNotListed for unlisted bonds.
func (r *Registry) Allowed(bond crypto.Address, flag Flag) (bool, error) {
	entry, err := r.listed(bond)
	if err != nil {
		return false, err
	}
	field := entry.flag(flag)
	if field == nil {
		return false, fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	return *field, nil
}

func (r *Registry) CollateralizationRatio(bond crypto.Address) (*big.Int, error) {
	entry, err := r.load(bond)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(entry.CollateralizationRatio), nil
}

func (r *Registry) DebtCeiling(bond crypto.Address) (*big.Int, error) {
	entry, err := r.load(bond)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(entry.DebtCeiling), nil
}

func (r *Registry) LiquidationIncentive(bond crypto.Address) (*big.Int, error) {
	entry, err := r.load(bond)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(entry.LiquidationIncentive), nil
}
