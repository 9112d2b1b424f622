package latchtree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, opts ...DBOption) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, append([]DBOption{WithSyncOff()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpdateSetThenViewGet(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.Set([]byte("hello"), []byte("world"))
		return err
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		v, err := tx.Get([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, []byte("world"), v)
		return nil
	}))
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	err := db.View(func(tx *Tx) error {
		_, err := tx.Get([]byte("missing"))
		return err
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSetReturnsPreviousValue(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.Set([]byte("k"), []byte("v1"))
		return err
	}))

	require.NoError(t, db.Update(func(tx *Tx) error {
		prev, err := tx.Set([]byte("k"), []byte("v2"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), prev)
		return nil
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		v, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
		return nil
	}))
}

func TestDeleteRemovesKey(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.Set([]byte("gone"), []byte("soon"))
		return err
	}))

	require.NoError(t, db.Update(func(tx *Tx) error {
		return tx.Delete([]byte("gone"))
	}))

	err := db.View(func(tx *Tx) error {
		_, err := tx.Get([]byte("gone"))
		return err
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestReadOnlyTxRejectsWrites(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	err := db.View(func(tx *Tx) error {
		_, err := tx.Set([]byte("k"), []byte("v"))
		return err
	})
	assert.ErrorIs(t, err, ErrTxNotWritable)

	err = db.View(func(tx *Tx) error {
		return tx.Delete([]byte("k"))
	})
	assert.ErrorIs(t, err, ErrTxNotWritable)
}

func TestManyInsertsSurviveSplitsAndRemainReadable(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	const n = 500
	require.NoError(t, db.Update(func(tx *Tx) error {
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%05d", i))
			val := []byte(fmt.Sprintf("value-%05d", i))
			if _, err := tx.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%05d", i))
			want := []byte(fmt.Sprintf("value-%05d", i))
			got, err := tx.Get(key)
			if err != nil {
				return err
			}
			assert.Equal(t, want, got)
		}
		return nil
	}))
}

func TestCommitAfterCommitReturnsErrTxDone(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, WithSyncOff())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestReopenAfterCloseSeesPersistedData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, WithSyncOff())
	require.NoError(t, err)

	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.Set([]byte("persisted"), []byte("yes"))
		return err
	}))
	require.NoError(t, db.Close())

	db2, err := Open(path, WithSyncOff())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })

	require.NoError(t, db2.View(func(tx *Tx) error {
		v, err := tx.Get([]byte("persisted"))
		require.NoError(t, err)
		assert.Equal(t, []byte("yes"), v)
		return nil
	}))
}
