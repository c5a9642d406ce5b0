package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyArithmetic(t *testing.T) {
	assert.Equal(t, 0, RootKey.Level())
	assert.Equal(t, Key(2), RootKey.Child(0))
	assert.Equal(t, Key(3), RootKey.Child(1))
	assert.Equal(t, Key(13), Key(6).Child(1))
	assert.Equal(t, 3, Key(13).Level())
	assert.Equal(t, Key(6), Key(13).Parent())
	assert.Equal(t, NoKey, RootKey.Parent())
}

func TestCommonAncestor(t *testing.T) {
	tests := []struct {
		a, b, want Key
	}{
		{13, 13, 13},
		{12, 13, 6},
		{12, 7, 1},
		{26, 6, 6},
		{2, 27, 1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CommonAncestor(tc.a, tc.b), "CommonAncestor(%d, %d)", tc.a, tc.b)
		assert.Equal(t, tc.want, CommonAncestor(tc.b, tc.a))
	}
}

func TestContains(t *testing.T) {
	assert.True(t, RootKey.Contains(27))
	assert.True(t, Key(6).Contains(13))
	assert.True(t, Key(6).Contains(6))
	assert.False(t, Key(6).Contains(7))
	assert.False(t, Key(13).Contains(6))
}
