package events

import (
	"math/big"

	"bondledger/core/types"
	"bondledger/crypto"
)

const (
	TypeTransfer = "asset.transfer"
	TypeApproval = "asset.approval"
)

type Transfer struct {
	Asset  string
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Approval struct {
	Asset   string
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{Type: TypeApproval, Attributes: map[string]string{
		"asset":   normalizeAsset(e.Asset),
		"owner":   formatAddress(e.Owner),
		"spender": formatAddress(e.Spender),
		"amount":  formatAmount(e.Amount),
	}}
}
