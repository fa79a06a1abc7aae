package strata

import "golang.org/x/crypto/bcrypt"

// bcryptCost defines the computational cost of the bcrypt algorithm.
// Higher values are more secure but slower.
const bcryptCost = 12

// HashPassword generates a bcrypt hash of the given password. The result
// is what BasicAuth expects in its user map, and is safe to store.
//
// Example:
//
//	hash, err := strata.HashPassword("user_password123")
//	if err != nil {
//	    return err
//	}
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies that a plaintext password matches a bcrypt hash.
// Returns nil if the password is correct.
func CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
