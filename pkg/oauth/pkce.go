package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// challengeFromVerifier computes base64url(sha256(verifier)) without
// padding, the S256 transform.
func challengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// verifyPKCE checks an S256 code_verifier against the stored challenge.
// Stored challenges may arrive padded; comparison is constant time.
func verifyPKCE(verifier, storedChallenge string) bool {
	expected := challengeFromVerifier(verifier)
	stored := strings.TrimRight(storedChallenge, "=")
	return subtle.ConstantTimeCompare([]byte(expected), []byte(stored)) == 1
}
