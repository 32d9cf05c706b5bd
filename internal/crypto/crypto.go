package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	deviceTokenCost     = bcrypt.DefaultCost
	minSigningKeyLength = 16
)

var (
	ErrEmptyToken       = errors.New("device token is empty")
	ErrTokenMismatch    = errors.New("device token mismatch")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrSignatureExpired = errors.New("signature expired")
)

// HashDeviceToken hashes a camera's upload token for storage in the registry.
func HashDeviceToken(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(trimmed), deviceTokenCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CompareDeviceToken(hash, token string) error {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ErrEmptyToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(trimmed)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return err
	}
	return nil
}

// NewSigningKey returns a random key for signed object URLs.
func NewSigningKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// SigningKeyFromString accepts a configured key; short keys are rejected.
func SigningKeyFromString(raw string) ([]byte, error) {
	if len(raw) < minSigningKeyLength {
		return nil, errors.New("signing key must be at least 16 bytes")
	}
	return []byte(raw), nil
}

// SignObjectURL signs key and expiry. The signature is hex HMAC-SHA256 over
// "<key>\n<expires unix>".
func SignObjectURL(signingKey []byte, objectKey string, expires time.Time) string {
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(objectKey))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyObjectURL(signingKey []byte, objectKey string, expiresUnix int64, signature string, now time.Time) error {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	want, _ := hex.DecodeString(SignObjectURL(signingKey, objectKey, time.Unix(expiresUnix, 0)))
	if !hmac.Equal(got, want) {
		return ErrSignatureInvalid
	}
	if now.Unix() > expiresUnix {
		return ErrSignatureExpired
	}
	return nil
}
