package state

import (
	"fmt"
	"strings"
)

const (
	// SlotRegistryAdmin holds the single identity allowed to administer the
	// bond risk registry and the oracle feed table.
	SlotRegistryAdmin = "registry-admin"
	// SlotOracleAuthority holds the identity allowed to publish prices.
	SlotOracleAuthority = "oracle-authority"
)

var (
	identityPrefix = []byte("identity:")
	noncePrefix    = []byte("nonce:")
)

// SetIdentity stores the identity occupying a privileged slot.
func (m *Manager) SetIdentity(slot string, addr []byte) error {
	trimmed := strings.TrimSpace(slot)
	if trimmed == "" {
		return fmt.Errorf("identity slot must not be empty")
	}
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	return m.putRLP(hashedKey(identityPrefix, []byte(trimmed)), append([]byte(nil), addr...))
}

// Identity returns the identity occupying slot, or nil when unset.
func (m *Manager) Identity(slot string) ([]byte, error) {
	var addr []byte
	found, err := m.getRLP(hashedKey(identityPrefix, []byte(strings.TrimSpace(slot))), &addr)
	if err != nil || !found {
		return nil, err
	}
	return addr, nil
}

// Nonce returns the last consumed request nonce for addr.
func (m *Manager) Nonce(addr []byte) (uint64, error) {
	var nonce uint64
	if _, err := m.getRLP(hashedKey(noncePrefix, addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce records the last consumed request nonce for addr.
func (m *Manager) SetNonce(addr []byte, nonce uint64) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	return m.putRLP(hashedKey(noncePrefix, addr), nonce)
}
