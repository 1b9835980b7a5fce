package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGlobalLayoutHashStableForSameNames(t *testing.T) {
	a := NewGlobalLayout([]string{"foo", "bar"})
	b := NewGlobalLayout([]string{"foo", "bar"})
	assert.Equal(t, a.Hash, b.Hash)
}

func TestNewGlobalLayoutHashDiffersForDifferentOrder(t *testing.T) {
	a := NewGlobalLayout([]string{"foo", "bar"})
	b := NewGlobalLayout([]string{"bar", "foo"})
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestLineTableLineFor(t *testing.T) {
	lt := LineTable{
		{StartOffset: 0, Count: 3, Line: 10},
		{StartOffset: 3, Count: 2, Line: 11},
	}
	assert.Equal(t, uint32(10), lt.LineFor(0))
	assert.Equal(t, uint32(10), lt.LineFor(2))
	assert.Equal(t, uint32(11), lt.LineFor(3))
	assert.Equal(t, uint32(11), lt.LineFor(4))
	assert.Equal(t, uint32(0), lt.LineFor(5), "offset past every entry resolves to 0")
}
