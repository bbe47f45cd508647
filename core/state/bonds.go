package state

import (
	"fmt"

	"bondledger/core/types"
)

var (
	bondPrefix  = []byte("bond:")
	bondListKey = hashedKey([]byte("bond-list"))
)

// PutBondSpec persists an issued bond and indexes it.
func (m *Manager) PutBondSpec(spec *types.BondSpec) error {
	if spec == nil || len(spec.Address) == 0 {
		return fmt.Errorf("bond spec requires an address")
	}
	var list [][]byte
	if _, err := m.getRLP(bondListKey, &list); err != nil {
		return err
	}
	known := false
	for _, existing := range list {
		if string(existing) == string(spec.Address) {
			known = true
			break
		}
	}
	if !known {
		list = append(list, append([]byte(nil), spec.Address...))
		if err := m.putRLP(bondListKey, list); err != nil {
			return err
		}
	}
	return m.putRLP(hashedKey(bondPrefix, spec.Address), spec)
}

// BondSpec loads the spec of the bond identified by addr, or nil when no such
// bond was issued.
func (m *Manager) BondSpec(addr []byte) (*types.BondSpec, error) {
	if len(addr) == 0 {
		return nil, nil
	}
	spec := new(types.BondSpec)
	found, err := m.getRLP(hashedKey(bondPrefix, addr), spec)
	if err != nil || !found {
		return nil, err
	}
	return spec, nil
}

// BondList returns the identities of every issued bond in issue order.
func (m *Manager) BondList() ([][]byte, error) {
	var list [][]byte
	if _, err := m.getRLP(bondListKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = [][]byte{}
	}
	return list, nil
}
