package genesis

import (
	"fmt"
	"math/big"
	"sort"

	"bondledger/core"
	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/core/types"
	"bondledger/crypto"
)

// Apply writes the genesis state through the executor. It reports false
// without touching state when the ledger already has an admin.
func Apply(x *core.Executor, spec *GenesisSpec) (bool, []events.Event, error) {
	if spec == nil {
		return false, nil, fmt.Errorf("genesis spec must not be nil")
	}
	if x == nil {
		return false, nil, fmt.Errorf("executor must not be nil")
	}
	if spec.admin.IsZero() {
		if err := spec.Validate(); err != nil {
			return false, nil, err
		}
	}
	applied := false
	evts, err := x.Update(func(m *core.Modules, st *state.Manager) error {
		existing, err := st.Identity(state.SlotRegistryAdmin)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		applied = true
		return build(m, st, spec)
	})
	if err != nil {
		return false, nil, err
	}
	return applied, evts, nil
}

func build(m *core.Modules, st *state.Manager, spec *GenesisSpec) error {
	admin := spec.admin
	// 1) Identities
	if err := st.SetIdentity(state.SlotRegistryAdmin, admin.Bytes()); err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	if err := st.SetIdentity(state.SlotOracleAuthority, spec.oracleAuthority.Bytes()); err != nil {
		return fmt.Errorf("set oracle authority: %w", err)
	}

	// 2) Tokens (sorted)
	tokens := append([]TokenSpec(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return normalizeSymbol(tokens[i].Symbol) < normalizeSymbol(tokens[j].Symbol)
	})
	for _, token := range tokens {
		symbol := normalizeSymbol(token.Symbol)
		name := token.Name
		if name == "" {
			name = symbol
		}
		if err := st.RegisterToken(symbol, name, token.Decimals, token.authority.Bytes()); err != nil {
			return fmt.Errorf("token %q: %w", symbol, err)
		}
	}

	// 3) Allocations (address sorted; symbols sorted)
	addresses := make([]string, 0, len(spec.Alloc))
	for addr := range spec.Alloc {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	supplies := make(map[string]*big.Int)
	for _, addrStr := range addresses {
		addr, err := ParseAccount(addrStr)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		balances := spec.Alloc[addrStr]
		symbols := make([]string, 0, len(balances))
		for symbol := range balances {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			amount, err := parseAmountString(balances[symbol])
			if err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
			normalized := normalizeSymbol(symbol)
			current, err := st.Balance(addr.Bytes(), normalized)
			if err != nil {
				return err
			}
			if err := st.SetBalance(addr.Bytes(), normalized, new(big.Int).Add(current, amount)); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
			if supplies[normalized] == nil {
				supplies[normalized] = new(big.Int)
			}
			supplies[normalized].Add(supplies[normalized], amount)
		}
	}
	supplySymbols := make([]string, 0, len(supplies))
	for symbol := range supplies {
		supplySymbols = append(supplySymbols, symbol)
	}
	sort.Strings(supplySymbols)
	for _, symbol := range supplySymbols {
		if err := st.SetTotalSupply(symbol, supplies[symbol]); err != nil {
			return fmt.Errorf("supply %q: %w", symbol, err)
		}
	}

	// 4) Price feeds
	for _, feed := range spec.Feeds {
		if err := m.Oracle.SetFeed(admin, feed.Symbol, feed.Decimals); err != nil {
			return fmt.Errorf("feed %q: %w", feed.Symbol, err)
		}
		if feed.price == nil || feed.price.Sign() == 0 {
			continue
		}
		if err := m.Oracle.PublishPrice(spec.oracleAuthority, feed.Symbol, feed.price); err != nil {
			return fmt.Errorf("feed %q price: %w", feed.Symbol, err)
		}
	}

	// 5) Bonds
	for _, b := range spec.Bonds {
		issued, err := m.Bonds.Issue(admin, &types.BondSpec{
			Symbol:           b.Symbol,
			Name:             b.Name,
			UnderlyingSymbol: b.Underlying,
			CollateralSymbol: b.Collateral,
			ExpirationTime:   uint64(b.expiration.Unix()),
		})
		if err != nil {
			return fmt.Errorf("bond %q: %w", b.Symbol, err)
		}
		if !b.Listed {
			continue
		}
		addr := crypto.NewAddress(crypto.ContractPrefix, issued.Address)
		if err := m.Registry.ListBond(admin, addr); err != nil {
			return fmt.Errorf("bond %q: list: %w", b.Symbol, err)
		}
		if b.ratio != nil {
			if err := m.Registry.SetCollateralizationRatio(admin, addr, b.ratio); err != nil {
				return fmt.Errorf("bond %q: %w", b.Symbol, err)
			}
		}
		if b.ceiling != nil {
			if err := m.Registry.SetDebtCeiling(admin, addr, b.ceiling); err != nil {
				return fmt.Errorf("bond %q: %w", b.Symbol, err)
			}
		}
		if b.incentive != nil {
			if err := m.Registry.SetLiquidationIncentive(admin, addr, b.incentive); err != nil {
				return fmt.Errorf("bond %q: %w", b.Symbol, err)
			}
		}
		for _, flag := range b.disabled {
			if err := m.Registry.SetAllowed(admin, addr, flag, false); err != nil {
				return fmt.Errorf("bond %q: %w", b.Symbol, err)
			}
		}
	}
	return nil
}
