package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveThenOpenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MANIFEST")
	dbID := uuid.New()

	m := New(path, dbID, "identity")
	require.NoError(t, m.Save())

	loaded, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, dbID, loaded.DatabaseID())
	assert.Equal(t, "identity", loaded.CodecID())
	assert.Equal(t, uint32(0), loaded.ActiveSegment())

	_, _, ok := loaded.SnapshotInfo()
	assert.False(t, ok)
}

func TestSetActiveSegmentPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MANIFEST")
	m := New(path, uuid.New(), "identity")
	require.NoError(t, m.Save())

	require.NoError(t, m.SetActiveSegment(7))

	loaded, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), loaded.ActiveSegment())
}

func TestSetSnapshotPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MANIFEST")
	m := New(path, uuid.New(), "identity")
	require.NoError(t, m.Save())

	require.NoError(t, m.SetSnapshot(3, 1000))

	loaded, err := Open(path)
	require.NoError(t, err)
	snapshotID, watermark, ok := loaded.SnapshotInfo()
	assert.True(t, ok)
	assert.Equal(t, uint32(3), snapshotID)
	assert.Equal(t, uint64(1000), watermark)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MANIFEST")
	m := New(path, uuid.New(), "identity")
	require.NoError(t, m.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Open(path)
	assert.Error(t, err)
}
