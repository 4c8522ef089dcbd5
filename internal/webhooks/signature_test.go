package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignHMACKnownVector(t *testing.T) {
	got := SignHMAC("key", []byte("The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"event":"payment.completed"}`)
	sig := SignHMAC("partner-secret", body)

	assert.True(t, VerifyHMAC("partner-secret", body, sig))
	assert.True(t, VerifyHMAC("partner-secret", body, SignatureScheme+sig))
	assert.False(t, VerifyHMAC("other", body, sig))
	assert.False(t, VerifyHMAC("partner-secret", []byte(`{}`), sig))
	assert.False(t, VerifyHMAC("partner-secret", body, "not-hex"))
}
