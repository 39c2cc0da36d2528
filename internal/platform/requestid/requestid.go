package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

func New() (string, error) {
	return Token(16)
}

// Token returns n random bytes hex encoded. Used for request ids and report share tokens.
func Token(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token length must be positive")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
