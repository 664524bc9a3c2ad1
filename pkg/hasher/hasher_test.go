package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordCorrect(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword([]byte("letmein"))
	require.NoError(t, err)

	assert.True(t, PasswordCorrect("letmein", hash))
	assert.False(t, PasswordCorrect("letmeout", hash))
	assert.False(t, PasswordCorrect("letmein", "not a hash"))
}
