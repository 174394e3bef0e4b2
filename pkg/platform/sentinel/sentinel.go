package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: a conditional write lost against a concurrent writer
//   - ErrAlreadyExists: an insert-if-absent found the key already taken
//   - ErrUnavailable: the backing store or gateway is temporarily unreachable
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnavailable   = errors.New("unavailable")
)
