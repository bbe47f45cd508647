package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// TokenMetadata describes a fungible asset tracked by the ledger.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
	// MintAuthority is the only identity allowed to change TotalSupply.
	MintAuthority []byte
	TotalSupply   *big.Int
}

var (
	tokenPrefix     = []byte("token:")
	tokenListKey    = hashedKey([]byte("token-list"))
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func tokenMetadataKey(symbol string) []byte {
	return hashedKey(tokenPrefix, []byte(symbol))
}

func balanceKey(addr []byte, symbol string) []byte {
	return hashedKey(balancePrefix, []byte(symbol), addr)
}

func allowanceKey(owner, spender []byte, symbol string) []byte {
	return hashedKey(allowancePrefix, []byte(symbol), owner, spender)
}

func (m *Manager) loadTokenList() ([]string, error) {
	var list []string
	if _, err := m.getRLP(tokenListKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	found, err := m.getRLP(tokenMetadataKey(symbol), meta)
	if err != nil || !found {
		return nil, err
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = big.NewInt(0)
	}
	return meta, nil
}

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8, authority []byte) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}

	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := m.putRLP(tokenListKey, list); err != nil {
		return err
	}

	meta := &TokenMetadata{
		Symbol:        normalized,
		Name:          strings.TrimSpace(name),
		Decimals:      decimals,
		MintAuthority: append([]byte(nil), authority...),
		TotalSupply:   big.NewInt(0),
	}
	return m.putRLP(tokenMetadataKey(normalized), meta)
}

// Token retrieves metadata for a registered token, or nil when unknown.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.loadTokenMetadata(normalizeSymbol(symbol))
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return false
	}
	meta, err := m.loadTokenMetadata(normalized)
	return err == nil && meta != nil
}

// SetTotalSupply overwrites the outstanding supply of a token.
func (m *Manager) SetTotalSupply(symbol string, supply *big.Int) error {
	normalized := normalizeSymbol(symbol)
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	if supply == nil || supply.Sign() < 0 {
		return fmt.Errorf("token %s: supply must be non-negative", normalized)
	}
	meta.TotalSupply = new(big.Int).Set(supply)
	return m.putRLP(tokenMetadataKey(normalized), meta)
}

// TotalSupply returns the outstanding supply of a token; unknown tokens have
// zero supply.
func (m *Manager) TotalSupply(symbol string) (*big.Int, error) {
	meta, err := m.Token(symbol)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(meta.TotalSupply), nil
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if meta, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	return m.putRLP(balanceKey(addr, normalized), amount)
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	found, err := m.getRLP(balanceKey(addr, normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetAllowance records how much of owner's balance spender may move.
func (m *Manager) SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error {
	if len(owner) == 0 || len(spender) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	return m.putRLP(allowanceKey(owner, spender, normalizeSymbol(symbol)), amount)
}

// Allowance returns the remaining amount spender may move out of owner's
// balance.
func (m *Manager) Allowance(owner, spender []byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	found, err := m.getRLP(allowanceKey(owner, spender, normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return amount, nil
}
