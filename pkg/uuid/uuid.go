package uuid

import (
	"github.com/google/uuid"
)

// New generates a new UUID v4
func New() string {
	return uuid.New().String()
}

// Validate reports whether s is a well-formed UUID.
func Validate(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Parse parses a UUID string
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
