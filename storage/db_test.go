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
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put([]byte("lending/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("lending/c"), []byte("3")))
	require.NoError(t, db.Put([]byte("bank/x"), []byte("9")))

	batch := db.NewBatch()
	batch.Put([]byte("lending/b"), []byte("2"))
	batch.Delete([]byte("lending/c"))
	require.Equal(t, 2, batch.Len())
	ok, err := db.Has([]byte("lending/b"))
	require.NoError(t, err)
	require.False(t, ok, "batch must not apply before Write")
	require.NoError(t, batch.Write())

	var keys []string
	require.NoError(t, db.Iterate([]byte("lending/"), func(key, value []byte) error {
		keys = append(keys, string(key)+"="+string(value))
		return nil
	}))
	require.Equal(t, []string{"lending/a=1", "lending/b=2"}, keys)

	require.NoError(t, db.Delete([]byte("lending/a")))
	_, err = db.Get([]byte("lending/a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	exerciseDatabase(t, NewMemDB())
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
