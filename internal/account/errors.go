package account

import "errors"

// Domain errors.
var (
	ErrUsernameTaken      = errors.New("account: username already taken")
	ErrInvalidCredentials = errors.New("account: invalid username or password")
	ErrAlreadyLoggedIn    = errors.New("account: chat already has an open session")
	ErrWeakPassword       = errors.New("account: password too short")
	ErrInvalidUsername    = errors.New("account: invalid username")
)
