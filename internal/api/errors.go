// Package api error types.
package api

import (
	"errors"
)

// ErrTokenExpired indicates the backend rejected the bearer token and
// re-login did not recover. The host should re-check the stored account
// credentials.
var ErrTokenExpired = errors.New("backend token expired")
