package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies authentication failures so callers can branch on the
// kind instead of matching message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUserNotFound
	KindInvalidPassword
	KindExistingUser
	KindAccountArrested
	KindRateLimited
	KindSessionNotFound
	KindUnknownPermission
	KindInvalidInput
	KindDatabase
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserNotFound:
		return "user_not_found"
	case KindInvalidPassword:
		return "invalid_password"
	case KindExistingUser:
		return "existing_user"
	case KindAccountArrested:
		return "account_arrested"
	case KindRateLimited:
		return "rate_limited"
	case KindSessionNotFound:
		return "session_not_found"
	case KindUnknownPermission:
		return "unknown_permission"
	case KindInvalidInput:
		return "invalid_input"
	case KindDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// Error is a domain error carrying the identifier (username, permission
// name, storage operation) it was raised for.
type Error struct {
	Kind       ErrorKind
	Identifier string
	Err        error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrUserNotFound      = &Error{Kind: KindUserNotFound}
	ErrInvalidPassword   = &Error{Kind: KindInvalidPassword}
	ErrExistingUser      = &Error{Kind: KindExistingUser}
	ErrAccountArrested   = &Error{Kind: KindAccountArrested}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrSessionNotFound   = &Error{Kind: KindSessionNotFound}
	ErrUnknownPermission = &Error{Kind: KindUnknownPermission}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrDatabase          = &Error{Kind: KindDatabase}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindUserNotFound:
		msg = "user not found"
	case KindInvalidPassword:
		msg = "invalid password"
	case KindExistingUser:
		msg = "user already exists"
	case KindAccountArrested:
		msg = "account is arrested"
	case KindRateLimited:
		msg = "too many login attempts"
	case KindSessionNotFound:
		msg = "session not found"
	case KindUnknownPermission:
		msg = "unknown permission"
	case KindInvalidInput:
		msg = "invalid input"
	case KindDatabase:
		msg = "database error"
	default:
		msg = "authentication error"
	}
	if e.Identifier != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Identifier)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Identifier == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func UserNotFound(username string) error {
	return &Error{Kind: KindUserNotFound, Identifier: username}
}

func InvalidPassword(username string) error {
	return &Error{Kind: KindInvalidPassword, Identifier: username}
}

func ExistingUser(username string) error {
	return &Error{Kind: KindExistingUser, Identifier: username}
}

func AccountArrested(username string) error {
	return &Error{Kind: KindAccountArrested, Identifier: username}
}

func RateLimited(username string) error {
	return &Error{Kind: KindRateLimited, Identifier: username}
}

func SessionNotFound() error {
	return &Error{Kind: KindSessionNotFound}
}

func UnknownPermission(name string) error {
	return &Error{Kind: KindUnknownPermission, Identifier: name}
}

func InvalidInput(field string) error {
	return &Error{Kind: KindInvalidInput, Identifier: field}
}

// DatabaseError wraps a storage failure with the operation that failed.
func DatabaseError(op string, err error) error {
	return &Error{Kind: KindDatabase, Identifier: op, Err: err}
}
