package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameCacheLookup(t *testing.T) {
	t.Parallel()
	c := NewNameCache(8)

	c.Add("LONGFI~1.TXT", "longfilename.txt")
	long, ok := c.Lookup("longfi~1.txt")
	require.True(t, ok)
	assert.Equal(t, "longfilename.txt", long)

	_, ok = c.Lookup("OTHER~1")
	assert.False(t, ok)

	c.Add("LONGFI~1.TXT", "renamed.txt")
	long, _ = c.Lookup("LONGFI~1.TXT")
	assert.Equal(t, "renamed.txt", long)
	assert.Equal(t, 1, c.Size())
}

func TestNameCacheEvictsOldest(t *testing.T) {
	t.Parallel()
	c := NewNameCache(2)
	c.Add("A~1", "a-long")
	c.Add("B~1", "b-long")
	c.Add("C~1", "c-long")

	_, ok := c.Lookup("A~1")
	assert.False(t, ok)
	_, ok = c.Lookup("C~1")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Invalidate()
	assert.Equal(t, 0, c.Size())
}
