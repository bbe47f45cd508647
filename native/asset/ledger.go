// Package asset implements the fungible-asset primitive the lending modules
// move collateral, underlying and bond balances with.
package asset

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/crypto"
)

type ledgerState interface {
	Token(symbol string) (*state.TokenMetadata, error)
	SetTotalSupply(symbol string, supply *big.Int) error
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	Allowance(owner, spender []byte, symbol string) (*big.Int, error)
	SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error
}

// Ledger moves balances of registered tokens.
type Ledger struct {
	st      ledgerState
	emitter events.Emitter
}

func NewLedger(st ledgerState) *Ledger {
	return &Ledger{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) token(symbol string) (*state.TokenMetadata, error) {
	meta, err := l.st.Token(symbol)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, strings.ToUpper(strings.TrimSpace(symbol)))
	}
	return meta, nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimals returns the native precision of symbol.
func (l *Ledger) Decimals(symbol string) (uint8, error) {
	meta, err := l.token(symbol)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// TotalSupply returns the outstanding supply of symbol.
func (l *Ledger) TotalSupply(symbol string) (*big.Int, error) {
	meta, err := l.token(symbol)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(meta.TotalSupply), nil
}

func (l *Ledger) BalanceOf(addr crypto.Address, symbol string) (*big.Int, error) {
	return l.st.Balance(addr.Bytes(), symbol)
}

func (l *Ledger) Allowance(owner, spender crypto.Address, symbol string) (*big.Int, error) {
	return l.st.Allowance(owner.Bytes(), spender.Bytes(), symbol)
}

// Transfer moves amount of symbol from one account to another.
func (l *Ledger) Transfer(from, to crypto.Address, symbol string, amount *big.Int) error {
	meta, err := l.token(symbol)
	if err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if from.IsZero() || to.IsZero() {
		return ErrInvalidAddress
	}
	if err := l.move(meta.Symbol, from, to, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: meta.Symbol, From: from, To: to, Amount: amount})
	return nil
}

func (l *Ledger) move(symbol string, from, to crypto.Address, amount *big.Int) error {
	fromBal, err := l.st.Balance(from.Bytes(), symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, fromBal, symbol, amount)
	}
	if err := l.st.SetBalance(from.Bytes(), symbol, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := l.st.Balance(to.Bytes(), symbol)
	if err != nil {
		return err
	}
	return l.st.SetBalance(to.Bytes(), symbol, new(big.Int).Add(toBal, amount))
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(owner, spender crypto.Address, symbol string, amount *big.Int) error {
	meta, err := l.token(symbol)
	if err != nil {
		return err
	}
	if owner.IsZero() || spender.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := l.st.SetAllowance(owner.Bytes(), spender.Bytes(), meta.Symbol, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Approval{Asset: meta.Symbol, Owner: owner, Spender: spender, Amount: amount})
	return nil
}

// TransferFrom moves amount out of from's balance on behalf of spender,
// consuming allowance.
func (l *Ledger) TransferFrom(spender, from, to crypto.Address, symbol string, amount *big.Int) error {
	meta, err := l.token(symbol)
	if err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if from.IsZero() || to.IsZero() || spender.IsZero() {
		return ErrInvalidAddress
	}
	allowance, err := l.st.Allowance(from.Bytes(), spender.Bytes(), meta.Symbol)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %s, needs %s", ErrInsufficientAllowance, spender, allowance, amount)
	}
	if err := l.move(meta.Symbol, from, to, amount); err != nil {
		return err
	}
	if err := l.st.SetAllowance(from.Bytes(), spender.Bytes(), meta.Symbol, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: meta.Symbol, From: from, To: to, Amount: amount})
	return nil
}

func (l *Ledger) authority(meta *state.TokenMetadata, caller crypto.Address) error {
	if len(meta.MintAuthority) == 0 || !bytes.Equal(meta.MintAuthority, caller.Bytes()) {
		return fmt.Errorf("%w: %s", ErrNotMintAuthority, meta.Symbol)
	}
	return nil
}

// Mint creates amount of symbol in to's balance. Only the token's mint
// authority may mint.
func (l *Ledger) Mint(caller crypto.Address, symbol string, to crypto.Address, amount *big.Int) error {
	meta, err := l.token(symbol)
	if err != nil {
		return err
	}
	if err := l.authority(meta, caller); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	bal, err := l.st.Balance(to.Bytes(), meta.Symbol)
	if err != nil {
		return err
	}
	if err := l.st.SetBalance(to.Bytes(), meta.Symbol, new(big.Int).Add(bal, amount)); err != nil {
		return err
	}
	if err := l.st.SetTotalSupply(meta.Symbol, new(big.Int).Add(meta.TotalSupply, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: meta.Symbol, To: to, Amount: amount})
	return nil
}

// Burn destroys amount of symbol held by from. Only the token's mint
// authority may burn.
func (l *Ledger) Burn(caller crypto.Address, symbol string, from crypto.Address, amount *big.Int) error {
	meta, err := l.token(symbol)
	if err != nil {
		return err
	}
	if err := l.authority(meta, caller); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	bal, err := l.st.Balance(from.Bytes(), meta.Symbol)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, bal, meta.Symbol, amount)
	}
	if err := l.st.SetBalance(from.Bytes(), meta.Symbol, new(big.Int).Sub(bal, amount)); err != nil {
		return err
	}
	if err := l.st.SetTotalSupply(meta.Symbol, new(big.Int).Sub(meta.TotalSupply, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: meta.Symbol, From: from, Amount: amount})
	return nil
}
