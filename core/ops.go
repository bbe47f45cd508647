package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"bondledger/core/types"
	"bondledger/crypto"
	"bondledger/native/registry"
)

// Operation names accepted in an envelope.
const (
	OpIssueBond                 = "issueBond"
	OpListBond                  = "listBond"
	OpSetCollateralizationRatio = "setCollateralizationRatio"
	OpSetDebtCeiling            = "setDebtCeiling"
	OpSetLiquidationIncentive   = "setLiquidationIncentive"
	OpSetAllowed                = "setAllowed"
	OpTransferAdmin             = "transferAdmin"
	OpOpenVault                 = "openVault"
	OpDepositCollateral         = "depositCollateral"
	OpWithdrawCollateral        = "withdrawCollateral"
	OpLockCollateral            = "lockCollateral"
	OpFreeCollateral            = "freeCollateral"
	OpBorrow                    = "borrow"
	OpRepayBorrow               = "repayBorrow"
	OpRepayBorrowBehalf         = "repayBorrowBehalf"
	OpLiquidateBorrow           = "liquidateBorrow"
	OpSupplyUnderlying          = "supplyUnderlying"
	OpRedeemBonds               = "redeemBonds"
	OpApprove                   = "approve"
	OpTransfer                  = "transfer"
	OpSetFeed                   = "setFeed"
	OpDeleteFeed                = "deleteFeed"
	OpPublishPrice              = "publishPrice"
)

var (
	ErrUnknownOp      = errors.New("core: unknown operation")
	ErrInvalidPayload = errors.New("core: invalid payload")
)

// IssueBondPayload issues a new bond token. The bond and redemption pool
// identities are always derived from the symbol.
type IssueBondPayload struct {
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Underlying     string `json:"underlying"`
	Collateral     string `json:"collateral"`
	ExpirationTime uint64 `json:"expirationTime"`
}

type BondPayload struct {
	Bond crypto.Address `json:"bond"`
}

// AmountPayload addresses a bond with a base-10 integer amount.
type AmountPayload struct {
	Bond   crypto.Address `json:"bond"`
	Amount string         `json:"amount"`
}

type BorrowerAmountPayload struct {
	Bond     crypto.Address `json:"bond"`
	Borrower crypto.Address `json:"borrower"`
	Amount   string         `json:"amount"`
}

// ParameterPayload carries a fixed-point registry parameter such as a ratio,
// ceiling or incentive.
type ParameterPayload struct {
	Bond  crypto.Address `json:"bond"`
	Value string         `json:"value"`
}

type SetAllowedPayload struct {
	Bond  crypto.Address `json:"bond"`
	Flag  string         `json:"flag"`
	Value bool           `json:"value"`
}

type TransferAdminPayload struct {
	Admin crypto.Address `json:"admin"`
}

type TransferPayload struct {
	Symbol string         `json:"symbol"`
	To     crypto.Address `json:"to"`
	Amount string         `json:"amount"`
}

type ApprovePayload struct {
	Symbol  string         `json:"symbol"`
	Spender crypto.Address `json:"spender"`
	Amount  string         `json:"amount"`
}

type SetFeedPayload struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type SymbolPayload struct {
	Symbol string `json:"symbol"`
}

type PublishPricePayload struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// action applies a decoded operation on behalf of caller.
type action func(m *Modules, caller crypto.Address) error

type decoder func(raw json.RawMessage) (action, error)

// decodeWith decodes the payload strictly and hands it to build.
func decodeWith[P any](build func(p P) (action, error)) decoder {
	return func(raw json.RawMessage) (action, error) {
		var p P
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return build(p)
	}
}

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s required", ErrInvalidPayload, field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidPayload, field)
	}
	return amount, nil
}

func requireAddress(field string, addr crypto.Address) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: %s required", ErrInvalidPayload, field)
	}
	return nil
}

func bondAmount(p AmountPayload, apply func(m *Modules, caller crypto.Address, amount *big.Int) error) (action, error) {
	if err := requireAddress("bond", p.Bond); err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return func(m *Modules, caller crypto.Address) error { return apply(m, caller, amount) }, nil
}

func borrowerAmount(p BorrowerAmountPayload, apply func(m *Modules, caller crypto.Address, amount *big.Int) error) (action, error) {
	if err := requireAddress("bond", p.Bond); err != nil {
		return nil, err
	}
	if err := requireAddress("borrower", p.Borrower); err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return func(m *Modules, caller crypto.Address) error { return apply(m, caller, amount) }, nil
}

func parameter(p ParameterPayload, apply func(m *Modules, caller crypto.Address, value *big.Int) error) (action, error) {
	if err := requireAddress("bond", p.Bond); err != nil {
		return nil, err
	}
	value, err := ParseAmount("value", p.Value)
	if err != nil {
		return nil, err
	}
	return func(m *Modules, caller crypto.Address) error { return apply(m, caller, value) }, nil
}

var operations = map[string]decoder{
	OpIssueBond: decodeWith(func(p IssueBondPayload) (action, error) {
		spec := &types.BondSpec{
			Symbol:           p.Symbol,
			Name:             p.Name,
			UnderlyingSymbol: p.Underlying,
			CollateralSymbol: p.Collateral,
			ExpirationTime:   p.ExpirationTime,
		}
		return func(m *Modules, caller crypto.Address) error {
			_, err := m.Bonds.Issue(caller, spec)
			return err
		}, nil
	}),
	OpListBond: decodeWith(func(p BondPayload) (action, error) {
		if err := requireAddress("bond", p.Bond); err != nil {
			return nil, err
		}
		return func(m *Modules, caller crypto.Address) error {
			return m.Registry.ListBond(caller, p.Bond)
		}, nil
	}),
	OpSetCollateralizationRatio: decodeWith(func(p ParameterPayload) (action, error) {
		return parameter(p, func(m *Modules, caller crypto.Address, v *big.Int) error {
			return m.Registry.SetCollateralizationRatio(caller, p.Bond, v)
		})
	}),
	OpSetDebtCeiling: decodeWith(func(p ParameterPayload) (action, error) {
		return parameter(p, func(m *Modules, caller crypto.Address, v *big.Int) error {
			return m.Registry.SetDebtCeiling(caller, p.Bond, v)
		})
	}),
	OpSetLiquidationIncentive: decodeWith(func(p ParameterPayload) (action, error) {
		return parameter(p, func(m *Modules, caller crypto.Address, v *big.Int) error {
			return m.Registry.SetLiquidationIncentive(caller, p.Bond, v)
		})
	}),
	OpSetAllowed: decodeWith(func(p SetAllowedPayload) (action, error) {
		if err := requireAddress("bond", p.Bond); err != nil {
			return nil, err
		}
		flag, ok := registry.ParseFlag(p.Flag)
		if !ok {
			return nil, fmt.Errorf("%w: %q", registry.ErrUnknownFlag, p.Flag)
		}
		return func(m *Modules, caller crypto.Address) error {
			return m.Registry.SetAllowed(caller, p.Bond, flag, p.Value)
		}, nil
	}),
	OpTransferAdmin: decodeWith(func(p TransferAdminPayload) (action, error) {
		if err := requireAddress("admin", p.Admin); err != nil {
			return nil, err
		}
		return func(m *Modules, caller crypto.Address) error {
			return m.Registry.TransferAdmin(caller, p.Admin)
		}, nil
	}),
	OpOpenVault: decodeWith(func(p BondPayload) (action, error) {
		if err := requireAddress("bond", p.Bond); err != nil {
			return nil, err
		}
		return func(m *Modules, caller crypto.Address) error {
			return m.Vaults.OpenVault(caller, p.Bond)
		}, nil
	}),
	OpDepositCollateral: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Vaults.DepositCollateral(caller, p.Bond, amount)
		})
	}),
	OpWithdrawCollateral: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Vaults.WithdrawCollateral(caller, p.Bond, amount)
		})
	}),
	OpLockCollateral: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Vaults.LockCollateral(caller, p.Bond, amount)
		})
	}),
	OpFreeCollateral: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Vaults.FreeCollateral(caller, p.Bond, amount)
		})
	}),
	OpBorrow: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Bonds.Borrow(caller, p.Bond, amount)
		})
	}),
	OpRepayBorrow: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Bonds.RepayBorrow(caller, p.Bond, amount)
		})
	}),
	OpRepayBorrowBehalf: decodeWith(func(p BorrowerAmountPayload) (action, error) {
		return borrowerAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Bonds.RepayBorrowBehalf(caller, p.Bond, p.Borrower, amount)
		})
	}),
	OpLiquidateBorrow: decodeWith(func(p BorrowerAmountPayload) (action, error) {
		return borrowerAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			return m.Bonds.LiquidateBorrow(caller, p.Bond, p.Borrower, amount)
		})
	}),
	OpSupplyUnderlying: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			_, err := m.Redemption.SupplyUnderlying(caller, p.Bond, amount)
			return err
		})
	}),
	OpRedeemBonds: decodeWith(func(p AmountPayload) (action, error) {
		return bondAmount(p, func(m *Modules, caller crypto.Address, amount *big.Int) error {
			_, err := m.Redemption.RedeemBonds(caller, p.Bond, amount)
			return err
		})
	}),
	OpApprove: decodeWith(func(p ApprovePayload) (action, error) {
		amount, err := ParseAmount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		return func(m *Modules, caller crypto.Address) error {
			return m.Assets.Approve(caller, p.Spender, p.Symbol, amount)
		}, nil
	}),
	OpTransfer: decodeWith(func(p TransferPayload) (action, error) {
		amount, err := ParseAmount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		return func(m *Modules, caller crypto.Address) error {
			return m.Assets.Transfer(caller, p.To, p.Symbol, amount)
		}, nil
	}),
	OpSetFeed: decodeWith(func(p SetFeedPayload) (action, error) {
		return func(m *Modules, caller crypto.Address) error {
			return m.Oracle.SetFeed(caller, p.Symbol, p.Decimals)
		}, nil
	}),
	OpDeleteFeed: decodeWith(func(p SymbolPayload) (action, error) {
		return func(m *Modules, caller crypto.Address) error {
			return m.Oracle.DeleteFeed(caller, p.Symbol)
		}, nil
	}),
	OpPublishPrice: decodeWith(func(p PublishPricePayload) (action, error) {
		price, err := ParseAmount("price", p.Price)
		if err != nil {
			return nil, err
		}
		return func(m *Modules, caller crypto.Address) error {
			return m.Oracle.PublishPrice(caller, p.Symbol, price)
		}, nil
	}),
}

// Ops lists the supported operation names.
func Ops() []string {
	out := make([]string, 0, len(operations))
	for op := range operations {
		out = append(out, op)
	}
	return out
}

func decode(op string, raw json.RawMessage) (action, error) {
	dec, ok := operations[strings.TrimSpace(op)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	return dec(raw)
}
