package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	EmailTokenBytes = 32
	PhoneCodeMin    = 100000
	PhoneCodeMax    = 999999
)

// GenerateEmailToken returns 32 random bytes hex-encoded.
func GenerateEmailToken() (string, error) {
	token, err := generateSecureToken(EmailTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating email token: %w", err)
	}
	return token, nil
}

// GeneratePhoneCode returns a uniformly random 6-digit code in
// [100000, 999999] using crypto/rand.
func GeneratePhoneCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(PhoneCodeMax-PhoneCodeMin+1))
	if err != nil {
		return "", fmt.Errorf("generating random code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+PhoneCodeMin), nil
}

func HashEmailToken(token string) string {
	return hashToken(token)
}

// HashPhoneCode binds a code to its identity so equal codes issued to
// different identities never share a digest.
func HashPhoneCode(identityID, code string) string {
	return hashToken(identityID + ":" + code)
}

// SecretsEqual compares two digests in constant time.
func SecretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
