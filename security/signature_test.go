package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := Sign("Jefe", []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event_id":"evt_1","event_type":"token.used"}`)
	sig := Sign("s3cret", body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		presented string
		want      bool
	}{
		{"valid", "s3cret", body, sig, true},
		{"valid with prefix", "s3cret", body, "sha256=" + sig, true},
		{"uppercase hex", "s3cret", body, strings.ToUpper(sig), true},
		{"wrong secret", "other", body, sig, false},
		{"tampered body", "s3cret", append([]byte{' '}, body...), sig, false},
		{"not hex", "s3cret", body, "zzzz", false},
		{"truncated", "s3cret", body, sig[:10], false},
		{"empty", "s3cret", body, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.secret, tt.body, tt.presented))
		})
	}
}

func TestVerifyRequest(t *testing.T) {
	body := []byte(`{}`)

	assert.NoError(t, VerifyRequest("", body, ""))
	assert.ErrorIs(t, VerifyRequest("k", body, ""), ErrMissingSignature)
	assert.ErrorIs(t, VerifyRequest("k", body, "  "), ErrMissingSignature)
	assert.ErrorIs(t, VerifyRequest("k", body, Sign("x", body)), ErrInvalidSignature)
	assert.NoError(t, VerifyRequest("k", body, Sign("k", body)))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "whsec_"))
	assert.Len(t, a, len("whsec_")+64)
	assert.NotEqual(t, a, b)
}

func TestHashAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "mvk_"))
	assert.Equal(t, HashAPIKey(key), HashAPIKey(key))
	assert.NotEqual(t, key, HashAPIKey(key))
	assert.Len(t, HashAPIKey(key), 64)
}
