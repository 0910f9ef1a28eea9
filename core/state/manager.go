package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"delphor/storage"
)

// Store is the RLP key/value surface shared by the manager and its
// transactions. Native modules declare narrower views of it.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var errEmptyKey = errors.New("kv: key must not be empty")

// Manager owns the committed state. All mutation funnels through Tx so a
// multi-record operation lands in one storage batch.
type Manager struct {
	db    storage.Database
	locks *KeyLocks
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, locks: NewKeyLocks()}
}

// Locks exposes the per-key lock table used to serialise writers.
func (m *Manager) Locks() *KeyLocks {
	return m.locks
}

// Begin opens a journaled transaction over the committed state.
func (m *Manager) Begin() *Tx {
	return &Tx{db: m.db, writes: make(map[string][]byte)}
}

// Update runs fn inside a transaction and commits it when fn returns nil.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	tx := m.Begin()
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) raw(hashed []byte) ([]byte, error) {
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	return kvGet(m.raw, key, out)
}

// KVGetList decodes the list stored under key. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	return kvGetList(m.raw, key, out)
}

func (m *Manager) KVPut(key []byte, value interface{}) error {
	return m.Update(func(tx *Tx) error { return tx.KVPut(key, value) })
}

func (m *Manager) KVDelete(key []byte) error {
	return m.Update(func(tx *Tx) error { return tx.KVDelete(key) })
}

func (m *Manager) KVAppend(key []byte, value []byte) error {
	return m.Update(func(tx *Tx) error { return tx.KVAppend(key, value) })
}

type rawGetter func(hashed []byte) ([]byte, error)

func kvGet(get rawGetter, key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	data, err := get(kvKey(key))
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

func kvGetList(get rawGetter, key []byte, out interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	data, err := get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
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
	return rlp.DecodeBytes(data, out)
}

func appendUnique(list [][]byte, value []byte) ([][]byte, bool) {
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return list, false
		}
	}
	return append(list, append([]byte(nil), value...)), true
}
