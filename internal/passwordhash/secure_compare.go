package passwordhash

import "crypto/subtle"

// SecureCompare performs a constant-time comparison of two strings.
func SecureCompare(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
