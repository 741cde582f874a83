package addressing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodeDecodeRoundTrips(t *testing.T) {
	run := NewRunID()
	key := New(run, Namespace("tenant-a/agent-1"), TypeJSON, []byte("doc:42"))

	decoded, err := DecodeKey(key.Encode())
	require.NoError(t, err)

	assert.True(t, key.Equal(decoded))
	assert.Equal(t, run, decoded.Run)
	assert.Equal(t, TypeJSON, decoded.Tag)
	assert.Equal(t, []byte("doc:42"), decoded.UserBytes)
}

func TestKeyLessIsLexicographic(t *testing.T) {
	run := NewRunID()
	a := New(run, Namespace("ns"), TypeKV, []byte("a"))
	b := New(run, Namespace("ns"), TypeKV, []byte("b"))

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestKeyHasPrefix(t *testing.T) {
	run := NewRunID()
	k := New(run, Namespace("ns"), TypeKV, []byte("user:42:profile"))
	assert.True(t, k.HasPrefix([]byte("user:42:")))
	assert.False(t, k.HasPrefix([]byte("user:43:")))
}

func TestRunIDRoundTripsThroughBytes(t *testing.T) {
	run := NewRunID()
	decoded, err := RunIDFromBytes(run.Bytes())
	require.NoError(t, err)
	assert.Equal(t, run, decoded)
}
