package wal

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(run addressing.RunID, userBytes string) addressing.Key {
	return addressing.New(run, addressing.Namespace("ns"), addressing.TypeKV, []byte(userBytes))
}

func TestWriterAppendThenReadBack(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	w, err := Open(Config{Dir: dir, DatabaseID: dbID, Codec: codec.Identity, Policy: Strict}, 0)
	require.NoError(t, err)
	defer w.Close()

	run := addressing.NewRunID()
	key := testKey(run, "alpha")
	mutations := []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: key, Value: value.String("hello")},
	}
	require.NoError(t, w.Append(run, 1, 1000, mutations))

	r, err := OpenSegmentForRead(dir, 0, dbID, codec.Identity)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.TxnID)
	assert.Equal(t, run, rec.Run)
	assert.Equal(t, int64(1000), rec.TimestampMicros)
	require.Len(t, rec.Mutations, 1)
	s, ok := rec.Mutations[0].Value.AsString()
	require.True(t, ok)
	assert.Equal(t, "hello", s)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriterRotatesSegmentsAndNotifiesTracker(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	tracker := &fakeTracker{}

	w, err := Open(Config{
		Dir:             dir,
		DatabaseID:      dbID,
		Codec:           codec.Identity,
		Policy:          Strict,
		// Sized to fit exactly one record after the header, so the second
		// Append is the one that forces rotation.
		MaxSegmentBytes: segmentHeaderSize + 90,
		Tracker:         tracker,
	}, 0)
	require.NoError(t, err)
	defer w.Close()

	run := addressing.NewRunID()
	mutations := []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)},
	}
	require.NoError(t, w.Append(run, 1, 1, mutations))
	require.NoError(t, w.Append(run, 2, 2, mutations))

	assert.Equal(t, uint32(1), w.ActiveSegment())
	assert.Equal(t, []uint32{1}, tracker.seen)

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, segments)
}

func TestReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	w, err := Open(Config{Dir: dir, DatabaseID: dbID, Codec: codec.Identity, Policy: Strict}, 0)
	require.NoError(t, err)

	run := addressing.NewRunID()
	require.NoError(t, w.Append(run, 1, 1, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)},
	}))
	require.NoError(t, w.Close())

	// Flip a byte inside the record payload to corrupt its checksum.
	corruptByteInFile(t, SegmentPath(dir, 0), segmentHeaderSize+10)

	r, err := OpenSegmentForRead(dir, 0, dbID, codec.Identity)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestBufferedPolicyFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	w, err := Open(Config{
		Dir:                   dir,
		DatabaseID:            dbID,
		Codec:                 codec.Identity,
		Policy:                Buffered,
		BufferedFsyncInterval: time.Hour, // effectively disable the ticker for this test
	}, 0)
	require.NoError(t, err)

	run := addressing.NewRunID()
	require.NoError(t, w.Append(run, 1, 1, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)},
	}))
	require.NoError(t, w.Close())

	r, err := OpenSegmentForRead(dir, 0, dbID, codec.Identity)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.TxnID)
}

type fakeTracker struct {
	seen []uint32
}

func (f *fakeTracker) SetActiveSegment(n uint32) error {
	f.seen = append(f.seen, n)
	return nil
}

func corruptByteInFile(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, offset)
	require.NoError(t, err)
	buf[0] ^= 0xFF
	_, err = f.WriteAt(buf, offset)
	require.NoError(t, err)
}
