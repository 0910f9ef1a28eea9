package state

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"delphor/storage"
)

// ErrTxClosed is returned when a committed or discarded transaction is reused.
var ErrTxClosed = errors.New("state: transaction closed")

// Tx buffers writes over the committed state. Reads observe the buffered
// writes first. Nothing reaches storage until Commit.
type Tx struct {
	db     storage.Database
	writes map[string][]byte // nil value marks a delete
	closed bool
}

func (tx *Tx) raw(hashed []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if value, ok := tx.writes[string(hashed)]; ok {
		return value, nil
	}
	data, err := tx.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	return kvGet(tx.raw, key, out)
}

func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	return kvGetList(tx.raw, key, out)
}

func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	tx.writes[string(kvKey(key))] = encoded
	return nil
}

func (tx *Tx) KVDelete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	tx.writes[string(kvKey(key))] = nil
	return nil
}

// KVAppend adds value to the list under key unless it is already present.
func (tx *Tx) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	data, err := tx.raw(kvKey(key))
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	list, added := appendUnique(list, value)
	if !added {
		return nil
	}
	return tx.KVPut(key, list)
}

// Pending reports how many records the transaction would write.
func (tx *Tx) Pending() int {
	return len(tx.writes)
}

// Commit writes every buffered record in a single batch.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.writes))
	for key := range tx.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := tx.db.NewBatch()
	for _, key := range keys {
		if value := tx.writes[key]; value == nil {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), value)
		}
	}
	tx.writes = nil
	return batch.Write()
}

// Discard drops buffered writes. Safe to call after Commit.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = nil
}
