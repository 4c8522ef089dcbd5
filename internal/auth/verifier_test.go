package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyDevToken(t *testing.T) {
	v := NewVerifier("", "")
	p, err := v.Verify("seller1:Admin")
	require.NoError(t, err)
	assert.Equal(t, Principal{OwnerID: "seller1", Role: "admin"}, p)
	assert.True(t, p.IsAdmin())

	_, err = v.Verify("seller1")
	assert.Error(t, err)
}

func TestVerifyHMACToken(t *testing.T) {
	secret := []byte("shh")
	v := NewVerifier("hmac", string(secret))
	v.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	tok, err := SignHS256(secret, map[string]any{"sub": "seller9", "exp": 1_700_000_600})
	require.NoError(t, err)
	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "seller9", p.OwnerID)
	assert.Equal(t, "seller", p.Role)

	forged, err := SignHS256([]byte("other"), map[string]any{"sub": "seller9"})
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrBadSignature)

	expired, err := SignHS256(secret, map[string]any{"sub": "seller9", "exp": 1_699_999_999})
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	noOwner, err := SignHS256(secret, map[string]any{"role": "admin"})
	require.NoError(t, err)
	_, err = v.Verify(noOwner)
	assert.Error(t, err)

	_, err = v.Verify("not.a.jwt")
	assert.Error(t, err)
}
