package token

import "errors"

var (
	// ErrTokenService flags a generic issuance precondition failure, such
	// as an inactive user.
	ErrTokenService = errors.New("token: service precondition failed")

	// ErrUserRoleNotFound is returned at issuance time when the requested
	// (user, application, role) context does not exist. Validation never
	// returns it; validation failures are all ErrInvalidToken.
	ErrUserRoleNotFound = errors.New("token: user role grant not found")

	// ErrInvalidToken is the umbrella for every validation-time rejection.
	// Callers should treat all of its variants identically and reject the
	// request; the reason is for logs, not for end users.
	ErrInvalidToken = errors.New("token: invalid token")
)

// InvalidTokenError carries the human-readable reason a token was rejected
// (expired, revoked, grant removed, ...). It unwraps to ErrInvalidToken so
// callers can match the whole family with errors.Is.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string { return "token: invalid token: " + e.Reason }

func (e *InvalidTokenError) Unwrap() error { return ErrInvalidToken }

func invalidToken(reason string) error { return &InvalidTokenError{Reason: reason} }
