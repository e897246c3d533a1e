package token

import "errors"

var (
	// ErrKeyNotFound means a container decrypted successfully but no alias
	// yielded a usable private key. The condition is indistinguishable from a
	// container whose entries were written under a different password.
	ErrKeyNotFound = errors.New("private key not found")

	// ErrIntegrity means a container failed to decrypt outright: wrong
	// password or corrupt data. Surfaced before any alias fallback.
	ErrIntegrity = errors.New("container integrity check failed")

	// ErrUnrecoverable means a swap was in progress but both the key
	// directory and its backup are missing.
	ErrUnrecoverable = errors.New("key directory and backup directory are both missing")
)
