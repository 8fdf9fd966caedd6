package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// User errors
	CodeUserEmptyUsername   Code = "USER_EMPTY_USERNAME"
	CodeUserInvalidUsername Code = "USER_INVALID_USERNAME"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodeUserInactive        Code = "USER_INACTIVE"

	// Ceremony errors
	CodeChallengeExpiredOrMissing Code = "CHALLENGE_EXPIRED_OR_MISSING"
	CodeCredentialNotFound        Code = "CREDENTIAL_NOT_FOUND"
	CodeRegistrationRejected      Code = "REGISTRATION_REJECTED"
	CodeAuthenticationRejected    Code = "AUTHENTICATION_REJECTED"

	// Session errors
	CodeInvalidToken Code = "INVALID_TOKEN"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// HTTPStatus maps an error code to the status the upstream HTTP layer
// should report. USER_NOT_FOUND during authentication is an integrity
// fault, not a client error, so it maps to a server-side status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUserEmptyUsername, CodeUserInvalidUsername:
		return http.StatusBadRequest

	case CodeChallengeExpiredOrMissing,
		CodeCredentialNotFound,
		CodeRegistrationRejected,
		CodeAuthenticationRejected,
		CodeUserInactive,
		CodeInvalidToken:
		return http.StatusUnauthorized

	case CodeNotFound:
		return http.StatusNotFound

	case CodeAlreadyExists:
		return http.StatusConflict

	case CodeUserNotFound, CodeStorageUnavailable:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
