package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"bondledger/crypto"
	"bondledger/native/precision"
	"bondledger/native/registry"
)

// GenesisSpec describes the initial ledger state. Identities are bech32
// strings; balances are base-10 integers in the token's native units; bond
// parameters are decimal fixed-point strings such as "150%" or "1.1".
type GenesisSpec struct {
	GenesisTime     string                       `json:"genesisTime" toml:"genesis_time"`
	Admin           string                       `json:"admin" toml:"admin"`
	OracleAuthority string                       `json:"oracleAuthority" toml:"oracle_authority"`
	Tokens          []TokenSpec                  `json:"tokens" toml:"tokens"`
	Alloc           map[string]map[string]string `json:"alloc" toml:"alloc"` // addr -> token -> amount
	Feeds           []FeedSpec                   `json:"feeds" toml:"feeds"`
	Bonds           []BondSpec                   `json:"bonds" toml:"bonds"`

	genesisTimestamp time.Time
	admin            crypto.Address
	oracleAuthority  crypto.Address
}

type TokenSpec struct {
	Symbol        string `json:"symbol" toml:"symbol"`
	Name          string `json:"name" toml:"name"`
	Decimals      uint8  `json:"decimals" toml:"decimals"`
	MintAuthority string `json:"mintAuthority,omitempty" toml:"mint_authority"`

	authority crypto.Address
}

type FeedSpec struct {
	Symbol   string `json:"symbol" toml:"symbol"`
	Decimals uint8  `json:"decimals" toml:"decimals"`
	Price    string `json:"price,omitempty" toml:"price"`

	price *big.Int
}

type BondSpec struct {
	Symbol     string `json:"symbol" toml:"symbol"`
	Name       string `json:"name" toml:"name"`
	Underlying string `json:"underlying" toml:"underlying"`
	Collateral string `json:"collateral" toml:"collateral"`
	// Expiration is an RFC3339 timestamp.
	Expiration             string   `json:"expiration" toml:"expiration"`
	Listed                 bool     `json:"listed" toml:"listed"`
	CollateralizationRatio string   `json:"collateralizationRatio,omitempty" toml:"collateralization_ratio"`
	DebtCeiling            string   `json:"debtCeiling,omitempty" toml:"debt_ceiling"`
	LiquidationIncentive   string   `json:"liquidationIncentive,omitempty" toml:"liquidation_incentive"`
	Disabled               []string `json:"disabled,omitempty" toml:"disabled"`

	expiration time.Time
	ratio      *big.Int
	ceiling    *big.Int
	incentive  *big.Int
	disabled   []registry.Flag
}

// LoadGenesisSpec reads a genesis file. Files ending in .toml are decoded as
// TOML, everything else as JSON. Unknown fields are rejected in both forms.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(raw), &spec)
		if err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode genesis spec %q: unknown field %q", path, undecoded[0].String())
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }
func (s *GenesisSpec) AdminAddress() crypto.Address { return s.admin }
func (s *GenesisSpec) OracleAuthorityAddress() crypto.Address {
	return s.oracleAuthority
}

// Validate checks the spec and caches the parsed values used by Apply.
func (s *GenesisSpec) Validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if s.admin, err = ParseAccount(s.Admin); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if strings.TrimSpace(s.OracleAuthority) == "" {
		s.oracleAuthority = s.admin
	} else if s.oracleAuthority, err = ParseAccount(s.OracleAuthority); err != nil {
		return fmt.Errorf("oracleAuthority: %w", err)
	}

	tokenSymbols := make(map[string]struct{}, len(s.Tokens))
	for i := range s.Tokens {
		if err := s.Tokens[i].validate(s.admin); err != nil {
			return fmt.Errorf("token[%d]: %w", i, err)
		}
		key := normalizeSymbol(s.Tokens[i].Symbol)
		if _, exists := tokenSymbols[key]; exists {
			return fmt.Errorf("token[%d]: duplicate symbol %q", i, s.Tokens[i].Symbol)
		}
		tokenSymbols[key] = struct{}{}
	}

	for addr, balances := range s.Alloc {
		if _, err := ParseAccount(addr); err != nil {
			return fmt.Errorf("alloc: %w", err)
		}
		for symbol, amount := range balances {
			if _, ok := tokenSymbols[normalizeSymbol(symbol)]; !ok {
				return fmt.Errorf("alloc[%q]: unknown token %q", addr, symbol)
			}
			if _, err := parseAmountString(amount); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addr, symbol, err)
			}
		}
	}

	for i := range s.Feeds {
		if err := s.Feeds[i].validate(); err != nil {
			return fmt.Errorf("feed[%d]: %w", i, err)
		}
	}

	bondSymbols := make(map[string]struct{}, len(s.Bonds))
	for i := range s.Bonds {
		b := &s.Bonds[i]
		if err := b.validate(tokenSymbols); err != nil {
			return fmt.Errorf("bond[%d]: %w", i, err)
		}
		key := normalizeSymbol(b.Symbol)
		if _, exists := bondSymbols[key]; exists {
			return fmt.Errorf("bond[%d]: duplicate symbol %q", i, b.Symbol)
		}
		if _, exists := tokenSymbols[key]; exists {
			return fmt.Errorf("bond[%d]: symbol %q collides with a token", i, b.Symbol)
		}
		bondSymbols[key] = struct{}{}
		if !b.expiration.After(s.genesisTimestamp) {
			return fmt.Errorf("bond[%d]: expiration must be after genesis time", i)
		}
	}
	return nil
}

func (t *TokenSpec) validate(admin crypto.Address) error {
	if normalizeSymbol(t.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if _, err := precision.Scalar(t.Decimals); err != nil {
		return err
	}
	if strings.TrimSpace(t.MintAuthority) == "" {
		t.authority = admin
		return nil
	}
	authority, err := ParseAccount(t.MintAuthority)
	if err != nil {
		return fmt.Errorf("mintAuthority: %w", err)
	}
	t.authority = authority
	return nil
}

func (f *FeedSpec) validate() error {
	if normalizeSymbol(f.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if _, err := precision.Scalar(f.Decimals); err != nil {
		return err
	}
	if strings.TrimSpace(f.Price) == "" {
		return nil
	}
	price, err := parseAmountString(f.Price)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	f.price = price
	return nil
}

func (b *BondSpec) validate(tokens map[string]struct{}) error {
	if normalizeSymbol(b.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	for _, symbol := range []string{b.Underlying, b.Collateral} {
		if _, ok := tokens[normalizeSymbol(symbol)]; !ok {
			return fmt.Errorf("unknown token %q", symbol)
		}
	}
	expiration, err := time.Parse(time.RFC3339, strings.TrimSpace(b.Expiration))
	if err != nil {
		return fmt.Errorf("expiration: %w", err)
	}
	b.expiration = expiration.UTC()
	if b.ratio, err = parseFixed(b.CollateralizationRatio); err != nil {
		return fmt.Errorf("collateralizationRatio: %w", err)
	}
	if b.ceiling, err = parseFixed(b.DebtCeiling); err != nil {
		return fmt.Errorf("debtCeiling: %w", err)
	}
	if b.incentive, err = parseFixed(b.LiquidationIncentive); err != nil {
		return fmt.Errorf("liquidationIncentive: %w", err)
	}
	b.disabled = b.disabled[:0]
	for _, name := range b.Disabled {
		flag, ok := registry.ParseFlag(name)
		if !ok {
			return fmt.Errorf("%w: %q", registry.ErrUnknownFlag, name)
		}
		b.disabled = append(b.disabled, flag)
	}
	if !b.Listed && (b.ratio != nil || b.ceiling != nil || b.incentive != nil || len(b.disabled) > 0) {
		return fmt.Errorf("risk parameters require listed = true")
	}
	return nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func parseGenesisTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesisTime %q: %w", value, err)
	}
	return ts.UTC(), nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseFixed(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return precision.Parse(value)
}
