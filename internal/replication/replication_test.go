package replication

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repl.log")
	f, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWriteAdvancesWritePosition(t *testing.T) {
	t.Parallel()

	f := openTestFile(t)
	data := []byte("hello")

	n, err := f.Write(data, 0, len(data))
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, int64(len(data)), f.WritePosition())
}

func TestCommitConfirmsPosition(t *testing.T) {
	t.Parallel()

	f := openTestFile(t)
	data := []byte("payload")
	_, err := f.Write(data, 0, len(data))
	require.NoError(t, err)

	pos, err := f.Commit()
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), pos)

	require.NoError(t, f.Confirm(pos, time.Second))
}

func TestConfirmTimesOutBeforeCommit(t *testing.T) {
	t.Parallel()

	f := openTestFile(t)
	data := []byte("payload")
	_, err := f.Write(data, 0, len(data))
	require.NoError(t, err)

	err = f.Confirm(int64(len(data)), 20*time.Millisecond)
	assert.Error(t, err)
}

func TestReadReturnsWrittenBytes(t *testing.T) {
	t.Parallel()

	f := openTestFile(t)
	data := []byte("round trip")
	_, err := f.Write(data, 0, len(data))
	require.NoError(t, err)
	_, err = f.Commit()
	require.NoError(t, err)

	buf := make([]byte, len(data))
	n, err := f.Read(buf, 0, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])
	assert.Equal(t, int64(len(data)), f.ReadPosition())
}

func TestFlipCausesReadToReportLeadershipLost(t *testing.T) {
	t.Parallel()

	f := openTestFile(t)
	data := []byte("x")
	_, err := f.Write(data, 0, len(data))
	require.NoError(t, err)

	require.NoError(t, f.Flip())

	buf := make([]byte, 1)
	_, err = f.Read(buf, 0, 1)
	assert.ErrorIs(t, err, ErrLeadershipLost)
}

func TestRecoverReplaysFromStart(t *testing.T) {
	t.Parallel()

	f := openTestFile(t)
	data := []byte("recover-me")
	_, err := f.Write(data, 0, len(data))
	require.NoError(t, err)
	_, err = f.Commit()
	require.NoError(t, err)

	var got []byte
	err = f.Recover(func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
