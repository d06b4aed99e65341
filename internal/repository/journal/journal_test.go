package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, options ...Option) *Journal {
	t.Helper()

	j, err := OpenMemory(options...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = j.Close() })

	return j
}

// TestAppend_TableAndLog checks that appends update both the log and the table.
func TestAppend_TableAndLog(t *testing.T) {
	t.Parallel()

	j := openMemory(t, WithHeaders(func() Headers { return Headers{"host": "test"} }))

	off, err := j.Append("overrides", "alarm1/Shelved", []byte("a"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	off, err = j.Append("overrides", "alarm1/Shelved", []byte("b"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), off)

	_, err = j.Append("overrides", "alarm2/Masked", []byte("c"))
	require.NoError(t, err)

	// Other topics have their own offsets.
	off, err = j.Append("notifications", "alarm1", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	value, err := j.Get("overrides", "alarm1/Shelved")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), value)

	table := map[string]string{}
	require.NoError(t, j.Table("overrides", func(k string, v []byte) error {
		table[k] = string(v)
		return nil
	}))
	require.Equal(t, map[string]string{"alarm1/Shelved": "b", "alarm2/Masked": "c"}, table)

	var records []*Record
	require.NoError(t, j.Replay("overrides", 1, func(r *Record) error {
		records = append(records, r)
		return nil
	}))
	require.Len(t, records, 2)
	require.Equal(t, uint64(1), records[0].Offset)
	require.Equal(t, "overrides", records[0].Topic)
	require.Equal(t, "test", records[0].Headers["host"])
	require.Equal(t, "alarm2/Masked", records[1].Key)
}

// TestAppend_Tombstone removes the table entry but keeps the log record.
func TestAppend_Tombstone(t *testing.T) {
	t.Parallel()

	j := openMemory(t)

	_, err := j.Append("overrides", "alarm1/Masked", []byte("{}"))
	require.NoError(t, err)

	_, err = j.Append("overrides", "alarm1/Masked", nil)
	require.NoError(t, err)

	_, err = j.Get("overrides", "alarm1/Masked")
	require.ErrorIs(t, err, ErrNotFound)

	var tombstones int

	require.NoError(t, j.Replay("overrides", 0, func(r *Record) error {
		if r.Tombstone() {
			tombstones++
		}

		return nil
	}))
	require.Equal(t, 1, tombstones)
}

// TestAppendBatch writes several topics in one batch and keeps per-topic
// offsets, including repeated topics within the batch.
func TestAppendBatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal")

	j, err := Open(path)
	require.NoError(t, err)

	_, err = j.Append("notifications", "alarm0", []byte("n0"))
	require.NoError(t, err)

	offsets, err := j.AppendBatch(
		Entry{Topic: "notifications", Key: "alarm1", Value: []byte("n1")},
		Entry{Topic: "alarms", Key: "alarm1", Value: []byte("a1")},
		Entry{Topic: "notifications", Key: "alarm0", Value: nil},
	)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 0, 2}, offsets)

	offsets, err = j.AppendBatch()
	require.NoError(t, err)
	require.Empty(t, offsets)

	require.NoError(t, j.Close())

	_, err = j.AppendBatch(Entry{Topic: "alarms", Key: "alarm2", Value: []byte("a2")})
	require.ErrorIs(t, err, ErrClosed)

	j, err = Open(path)
	require.NoError(t, err)

	defer func() { _ = j.Close() }()

	value, err := j.Get("alarms", "alarm1")
	require.NoError(t, err)
	require.Equal(t, []byte("a1"), value)

	_, err = j.Get("notifications", "alarm0")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = j.Get("alarms", "alarm2")
	require.ErrorIs(t, err, ErrNotFound)

	off, err := j.Append("notifications", "alarm3", []byte("n3"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), off)

	off, err = j.Append("alarms", "alarm3", []byte("a3"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), off)
}

// TestReopen_ContinuesOffsets verifies durability across a close and reopen.
func TestReopen_ContinuesOffsets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal")

	j, err := Open(path)
	require.NoError(t, err)

	_, err = j.Append("registrations", "alarm1", []byte("r1"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = OpenRetry(context.Background(), path, time.Second)
	require.NoError(t, err)

	defer func() { _ = j.Close() }()

	off, err := j.Append("registrations", "alarm1", []byte("r2"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), off)

	value, err := j.Get("registrations", "alarm1")
	require.NoError(t, err)
	require.Equal(t, []byte("r2"), value)
}

// TestClosed rejects appends after Close.
func TestClosed(t *testing.T) {
	t.Parallel()

	j, err := OpenMemory()
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err = j.Append("t", "k", []byte("v"))
	require.ErrorIs(t, err, ErrClosed)

	_, err = j.Get("t", "k")
	require.ErrorIs(t, err, ErrClosed)
}

// TestOpenRetry_GivesUp stops retrying when the context is done.
func TestOpenRetry_GivesUp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "locked")

	j, err := Open(path)
	require.NoError(t, err)

	defer func() { _ = j.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The first handle holds the file lock.
	_, err = OpenRetry(ctx, path, time.Minute)
	require.Error(t, err)
}
