package types

import "strings"

// BondSpec describes an issued fixed-maturity bond token. Identities are kept
// as raw 20-byte slices so the structure stays RLP encodable.
type BondSpec struct {
	// Address is the identity of the bond token itself. It is the only
	// caller allowed to mutate vault debt for this bond.
	Address []byte
	// Symbol is the token symbol the bond balances are tracked under.
	Symbol string
	Name   string
	// UnderlyingSymbol is the asset the bond is redeemable for at maturity
	// and whose price values outstanding debt.
	UnderlyingSymbol string
	// CollateralSymbol is the asset borrowers lock against their debt.
	CollateralSymbol string
	// ExpirationTime is the unix timestamp (seconds) at which the bond
	// matures.
	ExpirationTime uint64
	// RedemptionPool is the identity authorised to mint and burn outside of
	// the borrow/repay flows.
	RedemptionPool []byte
}

// IsMatured reports whether the bond has reached its expiration at now.
func (b *BondSpec) IsMatured(now uint64) bool {
	if b == nil {
		return false
	}
	return b.ExpirationTime <= now
}

// Normalize upper-cases the symbols and trims whitespace.
func (b *BondSpec) Normalize() {
	if b == nil {
		return
	}
	b.Symbol = strings.ToUpper(strings.TrimSpace(b.Symbol))
	b.Name = strings.TrimSpace(b.Name)
	b.UnderlyingSymbol = strings.ToUpper(strings.TrimSpace(b.UnderlyingSymbol))
	b.CollateralSymbol = strings.ToUpper(strings.TrimSpace(b.CollateralSymbol))
}

// Clone returns a deep copy of the spec.
func (b *BondSpec) Clone() *BondSpec {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Address = append([]byte(nil), b.Address...)
	clone.RedemptionPool = append([]byte(nil), b.RedemptionPool...)
	return &clone
}
