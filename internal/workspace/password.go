package workspace

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialComparator checks a plaintext secret against a stored hash.
// The default is bcrypt; deployments with an external credential service
// swap it via WithCredentialComparator.
type CredentialComparator func(hash, secret string) error

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored bcrypt hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
