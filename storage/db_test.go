package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("pos/a"), []byte("1")))
	batch := NewBatch()
	batch.Put([]byte("pos/b"), []byte("2"))
	batch.Put([]byte("pos/c"), []byte("3"))
	batch.Delete([]byte("pos/a"))
	batch.Put([]byte("rate/0"), []byte("x"))
	require.Equal(t, 4, batch.Len())
	require.NoError(t, db.Write(batch))

	ok, err := db.Has([]byte("pos/a"))
	require.NoError(t, err)
	require.False(t, ok)

	var keys []string
	require.NoError(t, db.Iterate([]byte("pos/"), func(key, value []byte) bool {
		keys = append(keys, string(key)+"="+string(value))
		return true
	}))
	require.Equal(t, []string{"pos/b=2", "pos/c=3"}, keys)

	keys = keys[:0]
	require.NoError(t, db.Iterate([]byte("pos/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return false
	}))
	require.Len(t, keys, 1)

	require.NoError(t, db.Delete([]byte("pos/b")))
	require.NoError(t, db.Delete([]byte("pos/b")))
	_, err = db.Get([]byte("pos/b"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	exerciseDatabase(t, db)
	require.NoError(t, db.Close())
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBFailWritesLeavesDataUntouched(t *testing.T) {
	db := NewMemDB()
	boom := errors.New("disk full")
	db.FailWrites(boom)

	batch := NewBatch()
	batch.Put([]byte("k"), []byte("v"))
	if err := db.Write(batch); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatalf("failed batch must not be applied")
	}

	db.FailWrites(nil)
	require.NoError(t, db.Write(batch))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(value))
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}
