package store

import "errors"

// Error taxonomy the HTTP layer maps onto status codes. Everything else
// surfaces as a wrapped database error and reads as internal.
var (
	ErrNotFound         = errors.New("not found")
	ErrNetworkNotFound  = errors.New("network not found")
	ErrDuplicateNetwork = errors.New("network name already taken")
	ErrDuplicateName    = errors.New("name already taken within network")
	ErrOffsetConflict   = errors.New("address offset already claimed")
	ErrNetworkFull      = errors.New("network full: no free addresses")
	ErrValidation       = errors.New("validation failed")
)
