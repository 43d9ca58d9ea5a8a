package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomString(t *testing.T) {
	s1, err := GenerateRandomString(16)
	require.NoError(t, err)
	assert.NotEmpty(t, s1)

	s2, err := GenerateRandomString(16)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestGenerateRandomBytes(t *testing.T) {
	b, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, b, 32)
}

func TestBytesToString(t *testing.T) {
	assert.Equal(t, "dwani", BytesToString([]byte("dwani")))
	assert.Equal(t, "", BytesToString(nil))
}
