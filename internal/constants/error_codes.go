package constants

const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeImageInvalid      = "IMAGE_INVALID"

	// Credentials and sessions
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeTokenExpired        = "TOKEN_EXPIRED"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeAccountDisabled     = "ACCOUNT_DISABLED"
	ErrCodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	ErrCodePasswordNotSet      = "PASSWORD_NOT_SET"

	// Verification challenges
	ErrCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeAlreadyVerified       = "ALREADY_VERIFIED"
	ErrCodeTooManyAttempts       = "TOO_MANY_ATTEMPTS"
)
