package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTProviderRoundTrip(t *testing.T) {
	p := NewJWTProvider("test-secret")
	tok, err := p.Issue("u1", "alice", time.Minute)
	require.NoError(t, err)

	id, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "alice", id.Username)
}

func TestJWTProviderRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTProvider("secret-a")
	tok, err := issuer.Issue("u1", "alice", time.Minute)
	require.NoError(t, err)

	verifier := NewJWTProvider("secret-b")
	_, err = verifier.Verify(tok)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTProviderRejectsExpiredToken(t *testing.T) {
	p := NewJWTProvider("test-secret")
	tok, err := p.Issue("u1", "alice", -time.Minute)
	require.NoError(t, err)

	_, err = p.Verify(tok)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTProviderRejectsGarbage(t *testing.T) {
	p := NewJWTProvider("test-secret")
	_, err := p.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{"tok-1": {UserID: "u1", Username: "alice"}}

	id, err := p.Verify("tok-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	_, err = p.Verify("unknown")
	assert.ErrorIs(t, err, ErrAuthFailed)
}
