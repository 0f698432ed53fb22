package registry

import "errors"

// ErrNotFound is returned by Registry operations addressing an unknown
// instance ID.
var ErrNotFound = errors.New("registry: instance not found")
