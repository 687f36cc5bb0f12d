package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/tinode/fanout/internal/corerr"
)

// HashPassword hashes a plaintext password for storage.
func HashPassword(plain string) (string, error) {
	if len(plain) < 6 {
		return "", corerr.Validationf("auth: password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", corerr.New(corerr.Internal, err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plain matches the stored hash.
func CheckPassword(hash, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		return corerr.New(corerr.Unauthenticated, errors.New("auth: invalid credentials"))
	}
	return nil
}
