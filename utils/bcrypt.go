package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret hashes an operations key for OPS_API_KEY_HASH.
func HashSecret(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func CompareSecret(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
