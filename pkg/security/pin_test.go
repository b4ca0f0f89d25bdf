package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillpoint/terminal-core/pkg/config"
)

func testSecurityConfig() config.SecurityConfig {
	// Small parameters keep the test fast; production values come from env.
	return config.SecurityConfig{
		ArgonMemoryKB:    8,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func TestHashAndVerifyPIN(t *testing.T) {
	hash, err := HashPIN("4821", testSecurityConfig())
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := VerifyPIN("4821", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPIN("0000", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPINRejectsEmpty(t *testing.T) {
	_, err := HashPIN("", testSecurityConfig())
	require.Error(t, err)
}

func TestVerifyPINRejectsMalformedHash(t *testing.T) {
	_, err := VerifyPIN("4821", "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestHashesAreSalted(t *testing.T) {
	cfg := testSecurityConfig()
	first, err := HashPIN("4821", cfg)
	require.NoError(t, err)
	second, err := HashPIN("4821", cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
