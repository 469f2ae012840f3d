package workspace

import "errors"

// Policy outcomes are sentinel errors so callers can branch with errors.Is;
// anything else coming out of this package is a storage failure.
var (
	ErrNotFound       = errors.New("workspace: not found")
	ErrAlreadyExists  = errors.New("workspace: already exists")
	ErrInvalidInput   = errors.New("workspace: invalid input")
	ErrBadCredentials = errors.New("workspace: bad credentials")
)
