package genesis

import (
	"fmt"
	"strings"

	"bondledger/crypto"
)

// ParseAccount decodes a bech32 identity with either the account or the
// contract prefix.
func ParseAccount(addr string) (crypto.Address, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("decode account %q: %w", addr, err)
	}
	switch decoded.Prefix() {
	case crypto.AccountPrefix, crypto.ContractPrefix:
		return decoded, nil
	default:
		return crypto.Address{}, fmt.Errorf("decode account %q: unsupported prefix %q", addr, decoded.Prefix())
	}
}
