package identity

import (
	"errors"
	"fmt"

	"samadhan/internal/constants"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicate
	KindNotFound
	KindInvalidCredentials
	KindUnauthenticated
	KindInvalidToken
	KindTokenExpired
	KindInvalidRefreshToken
	KindForbidden
	KindAccountDisabled
	KindEmailNotVerified
	KindPasswordNotSet
	KindInvalidOrExpiredToken
	KindAlreadyVerified
	KindTooManyAttempts
	KindRateLimited
)

// Error is the failure type returned by Service and Verifier. Two errors
// match under errors.Is when their kinds are equal. Field names the
// offending input for single-field failures such as a duplicate email.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation            = &Error{Kind: KindValidation, Code: constants.ErrCodeValidation, Message: "Validation failed"}
	ErrDuplicateIdentity     = &Error{Kind: KindDuplicate, Code: constants.ErrCodeDuplicateIdentity, Message: "An account with this contact already exists"}
	ErrNotFound              = &Error{Kind: KindNotFound, Code: constants.ErrCodeNotFound, Message: "User not found"}
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials, Code: constants.ErrCodeInvalidCredentials, Message: "Invalid credentials"}
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated, Code: constants.ErrCodeUnauthenticated, Message: "Authentication required"}
	ErrInvalidToken          = &Error{Kind: KindInvalidToken, Code: constants.ErrCodeInvalidToken, Message: "Invalid token"}
	ErrTokenExpired          = &Error{Kind: KindTokenExpired, Code: constants.ErrCodeTokenExpired, Message: "Token expired"}
	ErrInvalidRefreshToken   = &Error{Kind: KindInvalidRefreshToken, Code: constants.ErrCodeInvalidRefreshToken, Message: "Invalid refresh token"}
	ErrForbidden             = &Error{Kind: KindForbidden, Code: constants.ErrCodeForbidden, Message: "Access denied"}
	ErrAccountDisabled       = &Error{Kind: KindAccountDisabled, Code: constants.ErrCodeAccountDisabled, Message: "Account is disabled"}
	ErrEmailNotVerified      = &Error{Kind: KindEmailNotVerified, Code: constants.ErrCodeEmailNotVerified, Message: "Please verify your email first"}
	ErrPasswordNotSet        = &Error{Kind: KindPasswordNotSet, Code: constants.ErrCodePasswordNotSet, Message: "No password is set for this account"}
	ErrInvalidOrExpiredToken = &Error{Kind: KindInvalidOrExpiredToken, Code: constants.ErrCodeInvalidOrExpiredToken, Message: "Invalid or expired verification token"}
	ErrAlreadyVerified       = &Error{Kind: KindAlreadyVerified, Code: constants.ErrCodeAlreadyVerified, Message: "Account is already verified"}
	ErrTooManyAttempts       = &Error{Kind: KindTooManyAttempts, Code: constants.ErrCodeTooManyAttempts, Message: "Too many attempts, request a new code"}
	ErrInternal              = &Error{Kind: KindInternal, Code: constants.ErrCodeInternal, Message: "An internal error occurred"}
)

func internalError(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: constants.ErrCodeInternal, Message: op, Err: err}
}

func duplicateError(field string) *Error {
	e := *ErrDuplicateIdentity
	e.Field = field
	if field != "" {
		e.Message = fmt.Sprintf("An account with this %s already exists", field)
		e.Fields = map[string]string{field: "already registered"}
	}
	return &e
}

func validationError(fields map[string]string) *Error {
	e := *ErrValidation
	e.Fields = fields
	return &e
}

// AsError returns err as *Error, wrapping anything else as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError("unexpected failure", err)
}
