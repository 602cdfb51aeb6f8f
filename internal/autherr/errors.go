package autherr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for the boundary layer. The mapping to a
// transport status code happens outside this subsystem.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindDatabase:
		return "database"
	}
	return "unknown"
}

// Error is the single error type crossing out of the auth core. Store
// failures wrap their cause; everything else carries a message safe to
// surface to callers.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
		}
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Validation reports malformed input. Fields maps a field name to its
// failure messages, mirroring how the boundary layer renders them.
func Validation(fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// ValidationMsg is the single-field convenience form.
func ValidationMsg(field, msg string) *Error {
	return Validation(map[string][]string{field: {msg}})
}

// NotFound reports an unknown session, token, or key. Never used for
// unknown users: that distinction would enable account enumeration.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Database wraps a store failure with the operation that hit it.
func Database(op string, cause error) *Error {
	return &Error{Kind: KindDatabase, Message: op + " failed", cause: cause}
}

// IsKind reports whether err is an auth error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsValidation(err error) bool   { return IsKind(err, KindValidation) }
func IsNotFound(err error) bool     { return IsKind(err, KindNotFound) }
func IsUnauthorized(err error) bool { return IsKind(err, KindUnauthorized) }
func IsForbidden(err error) bool    { return IsKind(err, KindForbidden) }
func IsDatabase(err error) bool     { return IsKind(err, KindDatabase) }
