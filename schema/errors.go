package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredential indicates the bearer credential could not be verified.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrRoomNotFound indicates a room id could not be resolved.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotFound indicates a store record could not be found.
	ErrNotFound = errors.New("not found")
	// ErrUserExists indicates a user record already exists.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound indicates a user record could not be found.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnsupportedLanguage indicates the requested language is not on the allow-list.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrSandboxUnavailable indicates no sandbox runtime is configured or reachable.
	ErrSandboxUnavailable = errors.New("sandbox runtime unavailable")
	// ErrPersistence indicates a document store write failed.
	ErrPersistence = errors.New("persistence failure")
)
