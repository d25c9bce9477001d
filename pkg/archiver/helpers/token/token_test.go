package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestEqual(t *testing.T) {
	tok, err := New()
	require.NoError(t, err)

	assert.True(t, Equal(tok, tok))
	for _, other := range []string{
		"",
		tok[:63],
		tok + "0",
		"<script>alert(1)</script>",
		"' OR '1'='1",
		"\x00",
	} {
		assert.False(t, Equal(tok, other), other)
	}
	assert.False(t, Equal("", ""))
}
