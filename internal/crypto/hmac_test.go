package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAtDeterministic(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("super-secret"))
	auth := &HMACAuth{Key: "key-123", Secret: secret}

	headers := auth.HeadersAt("GET", "/v1/flow/NVDA", "", 1700000000)

	assert.Equal(t, "key-123", headers["FA-API-KEY"])
	assert.Equal(t, "1700000000", headers["FA-TIMESTAMP"])

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte("1700000000GET/v1/flow/NVDA"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, headers["FA-SIGNATURE"])
}

func TestHeadersIncludesBody(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("s"))
	auth := &HMACAuth{Key: "k", Secret: secret}

	empty := auth.HeadersAt("POST", "/v1/ack", "", 42)
	withBody := auth.HeadersAt("POST", "/v1/ack", `{"id":"x"}`, 42)
	assert.NotEqual(t, empty["FA-SIGNATURE"], withBody["FA-SIGNATURE"])
}

func TestHeadersRawSecretFallback(t *testing.T) {
	// A secret that is not valid base64 is used as raw bytes.
	auth := &HMACAuth{Key: "k", Secret: "not!valid!base64!"}

	headers := auth.HeadersAt("GET", "/v1/status", "", 1)
	require.NotEmpty(t, headers["FA-SIGNATURE"])

	mac := hmac.New(sha256.New, []byte("not!valid!base64!"))
	mac.Write([]byte("1GET/v1/status"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), headers["FA-SIGNATURE"])
}

func TestStringRedactsSecret(t *testing.T) {
	auth := &HMACAuth{Key: "key-abcdef", Secret: "topsecretvalue"}
	s := auth.String()
	assert.NotContains(t, s, "topsecretvalue")
	assert.Contains(t, s, "key-****")
	assert.Contains(t, s, "tops****")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("the-api-secret", "password1")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "password1")
	require.NoError(t, err)
	assert.Equal(t, "the-api-secret", got)

	_, err = DecryptSecret(blob, "wrong-password")
	require.Error(t, err)
}

func TestLoadSecretResolutionOrder(t *testing.T) {
	// Raw secret wins.
	got, err := LoadSecret(SecretConfig{RawSecret: "raw", EncryptedKeyPath: "/nope"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	// Nothing configured is an error.
	_, err = LoadSecret(SecretConfig{})
	require.Error(t, err)
}
