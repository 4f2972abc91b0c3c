package auth

import (
	"net/http"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/cockroachdb/errors"
)

// Error is an authentication or authorization failure. Message is safe to
// return to clients; the cause is only logged.
type Error struct {
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Unauthorized builds a 401 failure marked with custom_errors.ErrUnauthorized.
func Unauthorized(message string, cause error) error {
	return errors.Mark(&Error{Status: http.StatusUnauthorized, Message: message, cause: cause}, custom_errors.ErrUnauthorized)
}

// Forbidden builds a 403 failure marked with custom_errors.ErrForbidden.
func Forbidden(message string) error {
	return errors.Mark(&Error{Status: http.StatusForbidden, Message: message}, custom_errors.ErrForbidden)
}

// AsError extracts the client facing failure from err.
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

const (
	MsgMissingHeader       = "Missing or invalid Authorization header"
	MsgInvalidToken        = "Invalid or expired token"
	MsgInvalidCredentials  = "Invalid credentials"
	MsgInvalidRefreshToken = "Invalid refresh token"
	MsgLogoutFailed        = "Failed to logout"
	MsgUserInfoFailed      = "Failed to get user info"
	MsgRolesNotFound       = "User roles not found"
	MsgInsufficientRoles   = "Insufficient role permissions"
	MsgPermissionsNotFound = "User permissions not found"
	MsgInsufficientPerms   = "Insufficient permissions"
	MsgNoAccessToken       = "No access token found."
)
