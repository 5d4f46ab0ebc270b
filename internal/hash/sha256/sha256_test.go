package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	t.Parallel()

	// Chunk IDs derive from posting identity lines; the same content must
	// always produce the same digest.
	h := New()
	line := []byte("go engineer\nhttps://example.com/job/1\n")

	first, err := h.Hash(line)
	require.NoError(t, err)
	second, err := h.Hash(line)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHashDiffersPerContent(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("go engineer\nhttps://example.com/job/1\n"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("go engineer\nhttps://example.com/job/2\n"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
