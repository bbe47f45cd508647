package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bondledger/storage"
)

var (
	// ErrTxnClosed is returned when a transaction is used after Commit or
	// Discard.
	ErrTxnClosed = errors.New("state: transaction closed")
	// ErrNotTxn is returned when Commit or Discard is called on the root
	// manager.
	ErrNotTxn = errors.New("state: manager is not a transaction")
)

// Manager provides typed, RLP encoded access to ledger state. A root manager
// reads and writes the backing database directly; Begin returns a
// transaction manager whose writes stay staged until Commit.
//
// Manager is not safe for concurrent use; callers serialise access.
type Manager struct {
	db      storage.Database
	overlay *storage.Overlay
	closed  bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a transaction on top of the manager's current view. Nested
// transactions commit into their parent.
func (m *Manager) Begin() *Manager {
	overlay := storage.NewOverlay(m.db)
	return &Manager{db: overlay, overlay: overlay}
}

// Commit atomically applies the staged writes of a transaction.
func (m *Manager) Commit() error {
	if m.overlay == nil {
		return ErrNotTxn
	}
	if m.closed {
		return ErrTxnClosed
	}
	if err := m.overlay.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.closed = true
	return nil
}

// Discard drops the staged writes of a transaction. It is safe to call after
// Commit, which makes `defer txn.Discard()` the usual pattern.
func (m *Manager) Discard() {
	if m.overlay == nil || m.closed {
		return
	}
	m.overlay.Discard()
	m.closed = true
}

// Dirty reports how many keys a transaction has staged.
func (m *Manager) Dirty() int {
	if m.overlay == nil {
		return 0
	}
	return m.overlay.Dirty()
}

func hashedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if m.closed {
		return nil, ErrTxnClosed
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) put(key, value []byte) error {
	if m.closed {
		return ErrTxnClosed
	}
	return m.db.Put(key, value)
}

func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(key, encoded)
}

var kvPrefix = []byte("kv:")

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.putRLP(hashedKey(kvPrefix, key), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.getRLP(hashedKey(kvPrefix, key), out)
}

// KVDelete removes the value stored under key. Deleting a missing key is not
// an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m.closed {
		return ErrTxnClosed
	}
	return m.db.Delete(hashedKey(kvPrefix, key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := hashedKey(kvPrefix, key)
	var list [][]byte
	if _, err := m.getRLP(hashed, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.putRLP(hashed, list)
}

// KVGetList decodes the list stored under key into out. Missing keys decode to
// an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	found, err := m.getRLP(hashedKey(kvPrefix, key), out)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	return nil
}
