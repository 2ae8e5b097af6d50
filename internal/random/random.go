// Package random provides cryptographically random byte generation, grounded
// on the teacher's pkg/random package.
package random

import (
	"crypto/rand"
	"fmt"
)

// New returns a byte slice of the specified length with cryptographically
// random contents.
func New(length int) ([]byte, error) {
	result := make([]byte, length)
	if _, err := rand.Read(result); err != nil {
		return nil, fmt.Errorf("unable to read random data: %w", err)
	}
	return result, nil
}
