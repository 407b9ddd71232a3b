package kvstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn-watchtower/pisa/kvstore"
)

func backends(t *testing.T) map[string]kvstore.Database {
	t.Helper()
	ldb, err := kvstore.OpenLevelDB(filepath.Join(t.TempDir(), "ldb"))
	require.NoError(t, err)
	bdb, err := kvstore.OpenBadgerDB(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	return map[string]kvstore.Database{"leveldb": ldb, "badger": bdb}
}

func TestDatabase_PutGetDelete(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			defer db.Close()

			require.NoError(t, db.Put([]byte("k1"), []byte("v1")))

			has, err := db.Has([]byte("k1"))
			require.NoError(t, err)
			assert.True(t, has)

			v, err := db.Get([]byte("k1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), v)

			_, err = db.Get([]byte("missing"))
			assert.ErrorIs(t, err, kvstore.ErrNotFound)

			require.NoError(t, db.Delete([]byte("k1")))
			has, err = db.Has([]byte("k1"))
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestDatabase_BatchIsAtomic(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			defer db.Close()

			batch := db.NewBatch()
			require.NoError(t, batch.Put([]byte("a"), []byte("1")))
			require.NoError(t, batch.Put([]byte("b"), []byte("2")))
			assert.Positive(t, batch.ValueSize())
			require.NoError(t, batch.Write())

			va, err := db.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), va)
			vb, err := db.Get([]byte("b"))
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), vb)
		})
	}
}

func TestDatabase_IteratorWithPrefix(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			defer db.Close()

			require.NoError(t, db.Put([]byte("responder:a:1"), []byte("x")))
			require.NoError(t, db.Put([]byte("responder:a:2"), []byte("y")))
			require.NoError(t, db.Put([]byte("other:b:1"), []byte("z")))

			it := db.NewIteratorWithPrefix([]byte("responder:a:"))
			defer it.Release()

			var keys []string
			for it.Next() {
				keys = append(keys, string(it.Key()))
			}
			require.NoError(t, it.Error())
			assert.ElementsMatch(t, []string{"responder:a:1", "responder:a:2"}, keys)
		})
	}
}
