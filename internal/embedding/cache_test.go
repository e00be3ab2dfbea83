package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorCache_DropOldest(t *testing.T) {
	c := newVectorCache(2)
	c.put("a", []float32{1})
	c.put("b", []float32{2})
	c.put("c", []float32{3})

	assert.Equal(t, 2, c.len())
	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry must be evicted")
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestVectorCache_PutIsIdempotent(t *testing.T) {
	c := newVectorCache(2)
	c.put("a", []float32{1})
	c.put("a", []float32{999})

	vec, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1}, vec, "re-put must not overwrite")
	assert.Equal(t, 1, c.len())
}

func TestVectorCache_StoresCopies(t *testing.T) {
	src := []float32{1, 2}
	c := newVectorCache(4)
	c.put("a", src)
	src[0] = 42

	vec, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)
}
