package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delphor/storage"
)

type record struct {
	Name   string
	Amount uint64
}

func TestTxIsolatedUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	tx := mgr.Begin()
	require.NoError(t, tx.KVPut([]byte("rec"), record{Name: "a", Amount: 7}))

	var got record
	ok, err := tx.KVGet([]byte("rec"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), got.Amount)

	ok, err = mgr.KVGet([]byte("rec"), &got)
	require.NoError(t, err)
	require.False(t, ok, "uncommitted write leaked")

	require.NoError(t, tx.Commit())
	ok, err = mgr.KVGet([]byte("rec"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got.Name)

	require.ErrorIs(t, tx.KVPut([]byte("rec"), record{}), ErrTxClosed)
}

func TestUpdateDiscardsOnError(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("rec"), record{Amount: 1}))

	err := mgr.Update(func(tx *Tx) error {
		if err := tx.KVPut([]byte("rec"), record{Amount: 99}); err != nil {
			return err
		}
		if err := tx.KVDelete([]byte("other")); err != nil {
			return err
		}
		return ErrTxClosed
	})
	require.ErrorIs(t, err, ErrTxClosed)

	var got record
	ok, err := mgr.KVGet([]byte("rec"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), got.Amount)
}

func TestTxDeleteShadowsCommitted(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("rec"), record{Amount: 5}))

	require.NoError(t, mgr.Update(func(tx *Tx) error {
		if err := tx.KVDelete([]byte("rec")); err != nil {
			return err
		}
		ok, err := tx.KVGet([]byte("rec"), nil)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
	ok, err := mgr.KVGet([]byte("rec"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("a")))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("b")))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("a")))

	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("idx"), &list))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, list)

	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("missing"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)
}

func TestKeyLocksSerialiseOverlappingKeys(t *testing.T) {
	locks := NewKeyLocks()
	release := locks.Lock("b", "a", "a")

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("lock on a acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	// Disjoint keys do not block.
	other := locks.Lock("c")
	other()

	release()
	<-acquired
	release()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("x", "y")()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, locks.size())
}

func TestEnsureStateVersion(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.EnsureStateVersion())

	version, ok, err := mgr.StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)
	require.NoError(t, mgr.EnsureStateVersion())

	require.NoError(t, mgr.SetStateVersion(StateVersion+1))
	require.ErrorIs(t, mgr.EnsureStateVersion(), ErrStateVersionMismatch)
}
