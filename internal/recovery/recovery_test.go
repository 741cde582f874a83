package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/manifest"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/value"
	"github.com/stratadb/strata/internal/wal"
)

func testKey(run addressing.RunID, user string) addressing.Key {
	return addressing.New(run, addressing.Namespace("ns"), addressing.TypeKV, []byte(user))
}

func TestCheckpointThenLoadSnapshotRoundTrips(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()

	store := shardstore.New()
	run := addressing.NewRunID()
	store.Apply(run, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)},
		{Op: shardstore.OpPut, Key: testKey(run, "b"), Value: value.String("hi")},
	}, store.AllocateVersion(), 1000)

	m := manifest.New(filepath.Join(dir, "MANIFEST"), dbID, codec.IdentityID)
	require.NoError(t, m.Save())

	ck := &Checkpointer{Dir: dir, DatabaseID: dbID, Codec: codec.Identity, Store: store, Manifest: m}
	info, err := ck.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Watermark)
	assert.Equal(t, uint32(0), info.SnapshotID)

	snapshotID, watermark, ok := m.SnapshotInfo()
	require.True(t, ok)
	assert.Equal(t, uint32(0), snapshotID)
	assert.Equal(t, uint64(1), watermark)

	snap, err := loadSnapshot(dir, snapshotID, dbID, codec.Identity)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Watermark)

	kvEntries := snap.ByTag[addressing.TypeKV]
	assert.Len(t, kvEntries, 2)
}

func TestRecoverAppliesSnapshotThenReplaysWALAboveWatermark(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")
	dbID := uuid.New()
	run := addressing.NewRunID()

	store := shardstore.New()
	store.Apply(run, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)},
	}, store.AllocateVersion(), 1000)

	m := manifest.New(filepath.Join(dir, "MANIFEST"), dbID, codec.IdentityID)
	require.NoError(t, m.Save())

	ck := &Checkpointer{Dir: dir, DatabaseID: dbID, Codec: codec.Identity, Store: store, Manifest: m}
	_, err := ck.Checkpoint(context.Background())
	require.NoError(t, err)

	w, err := wal.Open(wal.Config{Dir: walDir, DatabaseID: dbID, Codec: codec.Identity, Policy: wal.Strict, Tracker: m}, 0)
	require.NoError(t, err)
	v2 := store.AllocateVersion()
	require.NoError(t, w.Append(run, v2, 2000, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "b"), Value: value.String("after-snapshot")},
	}))
	store.Apply(run, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "b"), Value: value.String("after-snapshot")},
	}, v2, 2000)
	require.NoError(t, w.Close())

	recovered := shardstore.New()
	summary, err := Recover(Config{
		WALDir:      walDir,
		SnapshotDir: dir,
		DatabaseID:  dbID,
		Codec:       codec.Identity,
		Manifest:    m,
		Store:       recovered,
	})
	require.NoError(t, err)
	assert.True(t, summary.LoadedSnapshot)
	assert.Equal(t, 1, summary.RecordsReplayed)
	assert.Equal(t, 0, summary.RecordsSkipped)
	assert.Nil(t, summary.TruncatedSegment)

	got, ok := recovered.Get(run, testKey(run, "a"))
	require.True(t, ok)
	assert.True(t, value.Equal(value.Int(1), got.Value))

	got, ok = recovered.Get(run, testKey(run, "b"))
	require.True(t, ok)
	assert.True(t, value.Equal(value.String("after-snapshot"), got.Value))
	assert.Equal(t, v2, got.Version)

	assert.Equal(t, uint64(v2), recovered.CurrentVersion())
}

func TestRecoverSkipsRecordsAtOrBelowWatermark(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")
	dbID := uuid.New()
	run := addressing.NewRunID()

	store := shardstore.New()
	m := manifest.New(filepath.Join(dir, "MANIFEST"), dbID, codec.IdentityID)
	require.NoError(t, m.Save())

	w, err := wal.Open(wal.Config{Dir: walDir, DatabaseID: dbID, Codec: codec.Identity, Policy: wal.Strict, Tracker: m}, 0)
	require.NoError(t, err)

	v1 := store.AllocateVersion()
	require.NoError(t, w.Append(run, v1, 1000, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)},
	}))
	store.Apply(run, []shardstore.Mutation{{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)}}, v1, 1000)

	ck := &Checkpointer{Dir: dir, DatabaseID: dbID, Codec: codec.Identity, Store: store, Manifest: m}
	_, err = ck.Checkpoint(context.Background())
	require.NoError(t, err)

	v2 := store.AllocateVersion()
	require.NoError(t, w.Append(run, v2, 2000, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "b"), Value: value.Int(2)},
	}))
	require.NoError(t, w.Close())

	recovered := shardstore.New()
	summary, err := Recover(Config{
		WALDir:      walDir,
		SnapshotDir: dir,
		DatabaseID:  dbID,
		Codec:       codec.Identity,
		Manifest:    m,
		Store:       recovered,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RecordsSkipped)
	assert.Equal(t, 1, summary.RecordsReplayed)
}

func TestRecoverTruncatesActiveSegmentOnCorruption(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")
	dbID := uuid.New()
	run := addressing.NewRunID()

	m := manifest.New(filepath.Join(dir, "MANIFEST"), dbID, codec.IdentityID)
	require.NoError(t, m.Save())

	w, err := wal.Open(wal.Config{Dir: walDir, DatabaseID: dbID, Codec: codec.Identity, Policy: wal.Strict, Tracker: m}, 0)
	require.NoError(t, err)
	require.NoError(t, w.Append(run, 1, 1000, []shardstore.Mutation{
		{Op: shardstore.OpPut, Key: testKey(run, "a"), Value: value.Int(1)},
	}))
	require.NoError(t, w.Close())

	path := wal.SegmentPath(walDir, 0)
	info, err := os.Stat(path)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, info.Size()-1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recovered := shardstore.New()
	summary, err := Recover(Config{
		WALDir:      walDir,
		SnapshotDir: dir,
		DatabaseID:  dbID,
		Codec:       codec.Identity,
		Manifest:    m,
		Store:       recovered,
	})
	require.NoError(t, err)
	require.NotNil(t, summary.TruncatedSegment)
	assert.Equal(t, uint32(0), *summary.TruncatedSegment)
	assert.Equal(t, 0, summary.RecordsReplayed)

	postInfo, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, postInfo.Size(), info.Size())
}
