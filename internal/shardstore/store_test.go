package shardstore

import (
	"testing"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(run addressing.RunID, userBytes string) addressing.Key {
	return addressing.New(run, addressing.Namespace("ns"), addressing.TypeKV, []byte(userBytes))
}

func TestStorePutGetDelete(t *testing.T) {
	s := New()
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	_, ok := s.Get(run, key)
	assert.False(t, ok, "unwritten key must not be visible")

	s.Put(run, key, value.NewVersionedValue(value.String("one"), 1))
	got, ok := s.Get(run, key)
	require.True(t, ok)
	str, ok := got.Value.AsString()
	require.True(t, ok)
	assert.Equal(t, "one", str)

	prior, ok := s.Delete(run, key)
	require.True(t, ok)
	str, _ = prior.Value.AsString()
	assert.Equal(t, "one", str)

	_, ok = s.Get(run, key)
	assert.False(t, ok)
}

func TestStoreApplyStampsCommitVersion(t *testing.T) {
	s := New()
	run := addressing.NewRunID()
	k1 := testKey(run, "a")
	k2 := testKey(run, "b")

	v := s.AllocateVersion()
	s.Apply(run, []Mutation{
		{Op: OpPut, Key: k1, Value: value.Int(1)},
		{Op: OpPut, Key: k2, Value: value.Int(2)},
	}, v, 1000)

	got1, ok := s.Get(run, k1)
	require.True(t, ok)
	assert.Equal(t, v, got1.Version)
	assert.Equal(t, int64(1000), got1.Timestamp)

	got2, ok := s.Get(run, k2)
	require.True(t, ok)
	assert.Equal(t, v, got2.Version)
	assert.Equal(t, int64(1000), got2.Timestamp)
}

func TestStoreIsolatesDifferentRuns(t *testing.T) {
	s := New()
	runA := addressing.NewRunID()
	runB := addressing.NewRunID()
	key := testKey(runA, "shared-looking-bytes")

	s.Put(runA, key, value.NewVersionedValue(value.Int(1), 1))

	// The same UserBytes under a different Run must not be visible: Run is
	// part of the key, and the two Runs don't even share a runData.
	_, ok := s.Get(runB, key)
	assert.False(t, ok)
}

func TestStoreListFiltersByTagAndPrefix(t *testing.T) {
	s := New()
	run := addressing.NewRunID()
	ns := addressing.Namespace("ns")

	kv1 := addressing.New(run, ns, addressing.TypeKV, []byte("user:1"))
	kv2 := addressing.New(run, ns, addressing.TypeKV, []byte("user:2"))
	other := addressing.New(run, ns, addressing.TypeKV, []byte("zzz"))
	event := addressing.New(run, ns, addressing.TypeEvent, []byte("user:1"))

	v := s.AllocateVersion()
	s.Apply(run, []Mutation{
		{Op: OpPut, Key: kv1, Value: value.Int(1)},
		{Op: OpPut, Key: kv2, Value: value.Int(2)},
		{Op: OpPut, Key: other, Value: value.Int(3)},
		{Op: OpPut, Key: event, Value: value.Int(4)},
	}, v, 1)

	entries := s.List(run, addressing.TypeKV, []byte("user:"))
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Key.Less(entries[1].Key) || entries[0].Key.Equal(entries[1].Key))
}

func TestSnapshotHidesLaterCommits(t *testing.T) {
	s := New()
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	v1 := s.AllocateVersion()
	s.Apply(run, []Mutation{{Op: OpPut, Key: key, Value: value.Int(1)}}, v1, 1)

	sn := s.Snapshot()

	v2 := s.AllocateVersion()
	s.Apply(run, []Mutation{{Op: OpPut, Key: key, Value: value.Int(2)}}, v2, 2)

	// The store keeps one version per key, so the overwritten key reads as
	// absent through the older snapshot rather than as its prior value.
	_, ok := sn.Get(run, key)
	assert.False(t, ok, "snapshot must not observe the later commit")
	assert.Equal(t, v1, sn.Version)

	latest, ok := s.Get(run, key)
	require.True(t, ok)
	n, _ := latest.Value.AsInt()
	assert.Equal(t, int64(2), n)
}
