package gatetoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengateway/core/pkg/gateclock"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	tok, err := NewToken(gateclock.Default)
	require.NoError(t, err)
	require.True(t, tok.String()[:3] == tokenPrefix)

	parsed, err := ParseToken(tok.String())
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)
}

func TestTokenFromString(t *testing.T) {
	t.Parallel()

	badTokens := []string{
		"",
		".",
		"MLF5MB3Peg79wEC0BY8U8Q",
		"MLF5MB3Peg79wEC0BY8U8Q.",
		"gt-",
		"gt-.",
		"gt-MLF5MB3Peg79wEC0BY8U8Q",
		"gt-MLF5MB3Peg79wEC0BY8U8Q.",
		"gt-.ChbkqEyp3EIJ2e_1Sqff3w",
		"gt-NOT.VALID",
		"gt-MLF5MB3Peg79wEC0BY8U8Q.ChbkqEyp3EIJ2e_1Sqff3w.!!!!",
		"gtMLF5MB3Peg79wEC0BY8U8Q.ChbkqEyp3EIJ2e_1Sqff3w",
	}
	for _, s := range badTokens {
		s := s
		t.Run(s, func(t *testing.T) {
			t.Parallel()
			_, err := ParseToken(s)
			require.Error(t, err)
			var invalid *InvalidTokenError
			assert.ErrorAs(t, err, &invalid)
		})
	}

	s := "gt-MLF5MB3Peg79wEC0BY8U8Q.ChbkqEyp3EIJ2e_1Sqff3w"
	tok, err := ParseToken(s)
	require.NoError(t, err)
	assert.Equal(t, "MLF5MB3Peg79wEC0BY8U8Q", tok.Key)
	assert.Equal(t, "ChbkqEyp3EIJ2e_1Sqff3w", tok.Secret)
	assert.Equal(t, s, tok.String())
}

func TestAuthorizationCodeRoundTrip(t *testing.T) {
	t.Parallel()

	code, err := NewAuthorizationCode(gateclock.Default)
	require.NoError(t, err)
	assert.True(t, code.String()[:3] == codePrefix)

	parsed, err := ParseAuthorizationCode(code.String())
	require.NoError(t, err)
	assert.Equal(t, code, parsed)

	_, err = ParseAuthorizationCode(code.String()[3:]) // gc- prefix stripped entirely
	require.Error(t, err)
}

func TestHasSubsetScopes(t *testing.T) {
	t.Parallel()

	data := TokenData{Scopes: []string{"read:all"}}
	assert.True(t, data.HasSubsetScopes([]string{"read:all", "write:all"}))
	assert.True(t, data.HasSubsetScopes([]string{"read:all"}))
	assert.False(t, data.HasSubsetScopes([]string{"write:all"}))
	assert.False(t, data.HasSubsetScopes(nil))

	empty := TokenData{}
	assert.True(t, empty.HasSubsetScopes([]string{"anything"}))
}
