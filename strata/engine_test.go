package strata

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/value"
)

func testKey(run addressing.RunID, userBytes string) addressing.Key {
	return addressing.New(run, addressing.Namespace("ns"), addressing.TypeKV, []byte(userBytes))
}

func openTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpenCreatesDatabaseDirectory(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})
	assert.Equal(t, uint64(0), e.Stats().CurrentVersion)
}

func TestCommitAppliesAndAdvancesVersion(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})
	run := addressing.NewRunID()

	tx, err := e.Begin(run)
	require.NoError(t, err)
	key := testKey(run, "alpha")
	require.NoError(t, tx.Put(key, value.Int(7)))

	v, err := tx.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	tx2, err := e.Begin(run)
	require.NoError(t, err)
	got, ok, err := tx2.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := got.AsInt()
	assert.Equal(t, int64(7), n)
	tx2.Abort()
}

func TestAbortDiscardsWrites(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	tx, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, tx.Put(key, value.Int(1)))
	tx.Abort()

	tx2, err := e.Begin(run)
	require.NoError(t, err)
	_, ok, err := tx2.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
	tx2.Abort()
}

// TestConflictOnStaleRead exercises §8's conflict scenario: tx1 reads a key,
// tx2 commits a write to it, and tx1's subsequent write to that key is
// rejected with a *ConflictError.
func TestConflictOnStaleRead(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	seed, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, seed.Put(key, value.Int(1)))
	_, err = seed.Commit()
	require.NoError(t, err)

	tx1, err := e.Begin(run)
	require.NoError(t, err)
	_, _, err = tx1.Get(key) // records the read
	require.NoError(t, err)

	tx2, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, tx2.Put(key, value.Int(2)))
	_, err = tx2.Commit()
	require.NoError(t, err)

	require.NoError(t, tx1.Put(key, value.Int(3)))
	_, err = tx1.Commit()
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.ErrorIs(t, err, ErrConflict)
}

// TestCASMismatchReportsExpectedAndActual is §8 scenario 3: cas(r, k,
// expected=1, "z") against a key actually at version 2 returns a
// *CASMismatchError naming both versions.
func TestCASMismatchReportsExpectedAndActual(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	seed, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, seed.Put(key, value.String("x")))
	v1, err := seed.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v1)

	bump, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, bump.Put(key, value.String("y")))
	v2, err := bump.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(2), v2)

	tx, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, tx.CAS(key, 1, value.String("z")))
	_, err = tx.Commit()

	var casErr *CASMismatchError
	require.ErrorAs(t, err, &casErr)
	assert.Equal(t, uint64(1), casErr.Expected)
	assert.Equal(t, uint64(2), casErr.Actual)
	assert.ErrorIs(t, err, ErrCASMismatch)
}

// TestMonotonicVersionsUnderConcurrency is §8's first testable property:
// 10 goroutines each committing 100 single-key puts against distinct runs
// allocate exactly the versions {1..1000}, with no gaps or duplicates.
func TestMonotonicVersionsUnderConcurrency(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})

	const goroutines = 10
	const perGoroutine = 100

	versions := make(chan uint64, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := addressing.NewRunID()
			for i := 0; i < perGoroutine; i++ {
				tx, err := e.Begin(run)
				if err != nil {
					panic(err)
				}
				if err := tx.Put(testKey(run, "k"), value.Int(int64(i))); err != nil {
					panic(err)
				}
				v, err := tx.Commit()
				if err != nil {
					panic(err)
				}
				versions <- v
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[uint64]bool, goroutines*perGoroutine)
	for v := range versions {
		require.False(t, seen[v], "version %d allocated twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
	for v := uint64(1); v <= uint64(goroutines*perGoroutine); v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
}

// TestSnapshotIsolation is §8's second scenario: a transaction's reads stay
// pinned to the snapshot taken at begin(), even after another transaction
// commits a concurrent write to the same key. The store keeps one version
// per key, so the overwritten key reads as absent to the older reader.
func TestSnapshotIsolation(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	seed, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, seed.Put(key, value.Int(1)))
	_, err = seed.Commit()
	require.NoError(t, err)

	reader, err := e.Begin(run)
	require.NoError(t, err)

	writer, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, writer.Put(key, value.Int(2)))
	_, err = writer.Commit()
	require.NoError(t, err)

	_, ok, err := reader.Get(key)
	require.NoError(t, err)
	assert.False(t, ok, "reader must not observe the concurrent commit")
	assert.Equal(t, uint64(1), reader.SnapshotVersion())
	reader.Abort()
}

func TestCheckpointRoundTrip(t *testing.T) {
	e := openTestEngine(t, Config{Durability: Strict})
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	tx, err := e.Begin(run)
	require.NoError(t, err)
	require.NoError(t, tx.Put(key, value.String("durable")))
	commitVersion, err := tx.Commit()
	require.NoError(t, err)

	info, err := e.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, commitVersion, info.Watermark)
	assert.Equal(t, uint32(0), info.SnapshotID)
}

func TestCompactWALOnlyRemovesSegmentsBehindWatermark(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	e, err := Open(path, Config{Durability: Strict, WALSegmentSize: 1})
	require.NoError(t, err)

	run := addressing.NewRunID()
	for i := 0; i < 5; i++ {
		tx, err := e.Begin(run)
		require.NoError(t, err)
		require.NoError(t, tx.Put(testKey(run, "k"), value.Int(int64(i))))
		_, err = tx.Commit()
		require.NoError(t, err)
	}

	_, err = e.Checkpoint(context.Background())
	require.NoError(t, err)

	// A 1-byte segment size makes every commit rotate first, leaving segment
	// 0 (header only) and segments 1..4 behind the active segment 5, all at
	// or below the checkpoint watermark of 5.
	info, err := e.Compact(CompactWALOnly)
	require.NoError(t, err)
	assert.Equal(t, 5, info.SegmentsRemoved)
	assert.Equal(t, 0, info.VersionsRemoved)

	require.NoError(t, e.Close())
}

// TestStrictDurabilitySurvivesReopen is §8's crash-recovery property: under
// Strict durability, a committed transaction's effects are visible after a
// clean close and reopen of the same database directory.
func TestStrictDurabilitySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	e1, err := Open(path, Config{Durability: Strict})
	require.NoError(t, err)
	run := addressing.NewRunID()
	key := testKey(run, "alpha")

	tx, err := e1.Begin(run)
	require.NoError(t, err)
	require.NoError(t, tx.Put(key, value.String("durable")))
	commitVersion, err := tx.Commit()
	require.NoError(t, err)
	require.NoError(t, e1.Close())

	e2, err := Open(path, Config{Durability: Strict})
	require.NoError(t, err)
	defer e2.Close()

	tx2, err := e2.Begin(run)
	require.NoError(t, err)
	got, ok, err := tx2.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	s, _ := got.AsString()
	assert.Equal(t, "durable", s)
	tx2.Abort()
	assert.Equal(t, commitVersion, e2.Stats().CurrentVersion)
}

func TestCodecMismatchFailsOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	e, err := Open(path, Config{Durability: Strict})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = Open(path, Config{Durability: Strict, CodecID: "does-not-exist"})
	require.ErrorIs(t, err, ErrCodecMismatch)
}

func TestOperationsAfterCloseReturnErrEngineClosed(t *testing.T) {
	e := openTestEngine(t, Config{Durability: InMemory})
	require.NoError(t, e.Close())

	_, err := e.Begin(addressing.NewRunID())
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = e.Checkpoint(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = e.Compact(CompactWALOnly)
	assert.ErrorIs(t, err, ErrEngineClosed)
}
