package id

import "github.com/google/uuid"

// New returns a random UUIDv4 string used for job ids.
func New() string {
	return uuid.NewString()
}
