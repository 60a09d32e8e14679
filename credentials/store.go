package credentials

import (
	"github.com/jrsteele09/mailsentry-console/internal/errors"
)

// Keys under which the session is persisted. Both are present or both are absent.
const (
	TokenKey = "auth_token"
	UserKey  = "auth_user"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.ErrNotFound

// Store defines durable key/value persistence for the session credential.
type Store interface {
	// Get returns the value stored under key or ErrNotFound
	Get(key string) (string, error)

	// Put writes all entries in a single atomic update
	Put(entries map[string]string) error

	// Delete removes the keys. Deleting an absent key is not an error.
	Delete(keys ...string) error
}
