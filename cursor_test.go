package latchtree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedKeys(t *testing.T, db *DB, n int) {
	t.Helper()
	require.NoError(t, db.Update(func(tx *Tx) error {
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%05d", i))
			val := []byte(fmt.Sprintf("val-%05d", i))
			if _, err := tx.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestCursorFirstAndNextVisitKeysInOrder(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedKeys(t, db, 20)

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()

		require.NoError(t, c.First())
		assert.Equal(t, []byte("key-00000"), c.Key())

		for i := 1; i < 20; i++ {
			require.NoError(t, c.Next())
			want := []byte(fmt.Sprintf("key-%05d", i))
			assert.Equal(t, want, c.Key())
		}
		return nil
	}))
}

func TestCursorLastAndPreviousVisitKeysInReverseOrder(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedKeys(t, db, 20)

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()

		require.NoError(t, c.Last())
		assert.Equal(t, []byte("key-00019"), c.Key())

		for i := 18; i >= 0; i-- {
			require.NoError(t, c.Previous())
			want := []byte(fmt.Sprintf("key-%05d", i))
			assert.Equal(t, want, c.Key())
		}
		return nil
	}))
}

func TestCursorFindGeAndFindLe(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	require.NoError(t, db.Update(func(tx *Tx) error {
		for _, k := range []string{"a", "c", "e", "g"} {
			if _, err := tx.Set([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()

		require.NoError(t, c.FindGe([]byte("d")))
		assert.Equal(t, []byte("e"), c.Key())

		c2 := tx.Cursor()
		defer c2.close()
		require.NoError(t, c2.FindLe([]byte("d")))
		assert.Equal(t, []byte("c"), c2.Key())
		return nil
	}))
}

func TestCursorFindNearbyReusesFrameStack(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedKeys(t, db, 200)

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()

		require.NoError(t, c.Find([]byte("key-00100")))
		require.NoError(t, c.FindNearby([]byte("key-00101")))
		assert.Equal(t, []byte("key-00101"), c.Key())

		require.NoError(t, c.FindNearby([]byte("key-00000")))
		assert.Equal(t, []byte("key-00000"), c.Key())

		require.NoError(t, c.FindNearby([]byte("key-00199")))
		assert.Equal(t, []byte("key-00199"), c.Key())
		return nil
	}))
}

func TestCursorSkipLimitScenario(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	require.NoError(t, db.Update(func(tx *Tx) error {
		for c := byte('a'); c <= 'z'; c++ {
			if _, err := tx.Set([]byte{c}, []byte{c}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()

		require.NoError(t, c.Find([]byte("a")))
		require.NoError(t, c.SkipLimit(5, []byte("m"), false))
		assert.Equal(t, []byte("f"), c.Key())

		require.NoError(t, c.Find([]byte("a")))
		require.NoError(t, c.SkipLimit(100, []byte("m"), false))
		assert.Nil(t, c.Key())
		return nil
	}))
}

func TestCursorSkipBatchesWithinLeaf(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedKeys(t, db, 50)

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()

		require.NoError(t, c.First())
		require.NoError(t, c.Skip(10))
		assert.Equal(t, []byte("key-00010"), c.Key())

		require.NoError(t, c.Skip(-5))
		assert.Equal(t, []byte("key-00005"), c.Key())
		return nil
	}))
}

func TestCursorRandomNodeReturnsAKeyWithinRange(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedKeys(t, db, 500)

	require.NoError(t, db.View(func(tx *Tx) error {
		for i := 0; i < 20; i++ {
			c := tx.Cursor()
			require.NoError(t, c.RandomNode())
			if c.Key() != nil {
				assert.True(t, bytes.Compare(c.Key(), []byte("key-00000")) >= 0)
				assert.True(t, bytes.Compare(c.Key(), []byte("key-00499")) <= 0)
			}
			c.close()
		}
		return nil
	}))
}

func TestBTreeDeleteAllClearsEveryEntryAndLeavesAValidEmptyTree(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedKeys(t, db, 300)

	require.NoError(t, db.tree.DeleteAll())
	require.NoError(t, db.tree.Verify())

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()
		require.NoError(t, c.First())
		assert.Nil(t, c.Key())
		return nil
	}))

	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.Set([]byte("a"), []byte("1"))
		return err
	}))
	require.NoError(t, db.View(func(tx *Tx) error {
		v, err := tx.Get([]byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
		return nil
	}))
}

func TestBTreeVerifyPassesOnAHealthyMultiLevelTree(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedKeys(t, db, 1000)

	require.NoError(t, db.tree.Verify())
}

func TestCursorFindGtAndFindLtExcludeExactMatch(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	require.NoError(t, db.Update(func(tx *Tx) error {
		for _, k := range []string{"a", "c", "e"} {
			if _, err := tx.Set([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		c := tx.Cursor()
		defer c.close()
		require.NoError(t, c.FindGt([]byte("c")))
		assert.Equal(t, []byte("e"), c.Key())

		c2 := tx.Cursor()
		defer c2.close()
		require.NoError(t, c2.FindLt([]byte("c")))
		assert.Equal(t, []byte("a"), c2.Key())
		return nil
	}))
}
