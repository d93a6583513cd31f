package objfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binbridge/binbridge/internal/engine"
)

func TestListingCache(t *testing.T) {
	t.Run("evicts least recently used", func(t *testing.T) {
		c := newListingCache(2)
		k1 := keyFor(0x1000, []byte{0x90})
		k2 := keyFor(0x2000, []byte{0x90})
		k3 := keyFor(0x3000, []byte{0x90})

		c.Put(k1, &listing{})
		c.Put(k2, &listing{})
		_, ok := c.Get(k1)
		require.True(t, ok)

		c.Put(k3, &listing{})
		assert.Equal(t, 2, c.Len())

		_, ok = c.Get(k2)
		assert.False(t, ok, "k2 was the oldest entry")
		_, ok = c.Get(k1)
		assert.True(t, ok)
		_, ok = c.Get(k3)
		assert.True(t, ok)

		hits, misses := c.Stats()
		assert.Equal(t, uint64(3), hits)
		assert.Equal(t, uint64(1), misses)
	})

	t.Run("existing entry wins", func(t *testing.T) {
		c := newListingCache(4)
		k := keyFor(0x1000, []byte{0xc3})
		first := &listing{}

		assert.Same(t, first, c.Put(k, first))
		assert.Same(t, first, c.Put(k, &listing{}))
		assert.Equal(t, 1, c.Len())
	})

	t.Run("key depends on bytes", func(t *testing.T) {
		assert.Equal(t, keyFor(0x1000, []byte{1, 2}), keyFor(0x1000, []byte{1, 2}))
		assert.NotEqual(t, keyFor(0x1000, []byte{1, 2}), keyFor(0x1000, []byte{1, 3}))
		assert.NotEqual(t, keyFor(0x1000, []byte{1, 2}), keyFor(0x1001, []byte{1, 2}))
	})

	t.Run("default capacity", func(t *testing.T) {
		assert.Equal(t, DefaultCacheSize, newListingCache(0).capacity)
	})
}

func TestXrefIndex(t *testing.T) {
	x := newXrefIndex()
	x.add(engine.Xref{Source: 0x1004, Target: 0x2000, Kind: engine.XrefCall})
	x.add(engine.Xref{Source: 0x1010, Target: 0x1010, Kind: engine.XrefJump})

	assert.Equal(t, 2, x.size())
	assert.Len(t, x.lookup(0x1004), 1)
	assert.Len(t, x.lookup(0x2000), 1)
	assert.Len(t, x.lookup(0x1010), 1, "self reference is stored once")
	assert.Empty(t, x.lookup(0x9999))

	refs := x.lookup(0x2000)
	refs[0].Target = 0
	assert.Equal(t, engine.Address(0x2000), x.lookup(0x2000)[0].Target, "lookup returns a copy")
}

func TestScanStrings(t *testing.T) {
	regions := []region{
		{name: ".rodata", start: 0x2000, rodata: true, data: []byte("\x00hello\x00hi\x00world!!\x01abcd")},
		{name: ".data", start: 0x3000, data: []byte("mutable\x00")},
	}

	got := scanStrings(regions, 4)
	require.Len(t, got, 3)
	assert.Equal(t, engine.StringLiteral{Address: 0x2001, Text: "hello", Length: 5, Segment: ".rodata"}, got[0])
	assert.Equal(t, engine.StringLiteral{Address: 0x200a, Text: "world!!", Length: 7, Segment: ".rodata"}, got[1])
	assert.Equal(t, engine.StringLiteral{Address: 0x2012, Text: "abcd", Length: 4, Segment: ".rodata"}, got[2])

	got = scanStrings(regions, 6)
	require.Len(t, got, 1)
	assert.Equal(t, "world!!", got[0].Text)

	assert.Len(t, scanStrings(regions, 0), 3, "non-positive minimum uses the default")
}
