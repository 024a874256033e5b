package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hmac256 computes the hex HMAC-SHA256 of body under key. Payment providers
// sign webhook bodies this way.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifyHmac256 compares a provider-supplied signature against the expected
// one in constant time.
func VerifyHmac256(body, key []byte, signature string) bool {
	expected := Hmac256(body, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}
