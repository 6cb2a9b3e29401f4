package hub

import (
	"errors"
	"fmt"
	"strings"
)

// CodeScopeRequired is returned by the server when a group join needs a valid owner scope.
const CodeScopeRequired = "OWNER_SCOPE_REQUIRED"

var (
	ErrScopeRequired = errors.New(CodeScopeRequired)
	ErrClosed        = errors.New("hub: connection closed")
	ErrHandshake     = errors.New("hub: handshake rejected")
)

// InvocationError is a failed completion of a remote invocation.
type InvocationError struct {
	Method  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("hub: %s failed: %s", e.Method, e.Message)
}

// Code is the error code carried in the message, or "" when there is none.
func (e *InvocationError) Code() string { return ParseErrorCode(e.Message) }

func (e *InvocationError) Is(target error) bool {
	return target == ErrScopeRequired && e.Code() == CodeScopeRequired
}

// ParseErrorCode extracts CODE from server messages shaped like "CODE: detail".
// Servers may wrap the text, e.g. "An unexpected error occurred invoking 'X' on
// the server. HubException: CODE: detail"; the wrapper is skipped.
func ParseErrorCode(msg string) string {
	if i := strings.LastIndex(msg, "HubException:"); i >= 0 {
		msg = msg[i+len("HubException:"):]
	}
	msg = strings.TrimSpace(msg)
	code, _, found := strings.Cut(msg, ":")
	if !found {
		code = msg
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return ""
		}
	}
	return code
}

// IsScopeRequired reports whether err carries the owner-scope-required code.
func IsScopeRequired(err error) bool {
	return errors.Is(err, ErrScopeRequired)
}
