package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/e7canasta/orion-inspect/internal/retry"
)

// ErrorKind classifies why a source could not be resolved.
type ErrorKind int

const (
	// ErrMalformed: the input is not a device index, an existing file or a usable URL.
	ErrMalformed ErrorKind = iota
	// ErrUnreachable: transient network failure talking to the remote site.
	ErrUnreachable
	// ErrForbidden: the remote refused the request (HTTP 400/401/403, private, geo-blocked).
	ErrForbidden
	// ErrEmptyResult: the download finished but produced no usable file.
	ErrEmptyResult
	// ErrExhausted: every download attempt failed with a transient error.
	ErrExhausted
	// ErrUnknown: unclassified extractor failure.
	ErrUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMalformed:
		return "malformed"
	case ErrUnreachable:
		return "unreachable"
	case ErrForbidden:
		return "forbidden"
	case ErrEmptyResult:
		return "empty_result"
	case ErrExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ResolutionError reports a failed resolution with a message meant for the user.
type ResolutionError struct {
	Kind  ErrorKind
	Input string
	Cause error
}

func (e *ResolutionError) Error() string {
	msg := e.Message()
	if e.Cause != nil {
		return fmt.Sprintf("source: %s: %v", msg, e.Cause)
	}
	return "source: " + msg
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// Message is the human-readable explanation without the underlying cause.
func (e *ResolutionError) Message() string {
	switch e.Kind {
	case ErrMalformed:
		return fmt.Sprintf("%q is not a camera index, an existing file or a valid URL", e.Input)
	case ErrUnreachable:
		return "could not reach the remote site, check the network connection"
	case ErrForbidden:
		return "the remote video could not be fetched (HTTP 400 or access denied); check that it is public and the URL is correct"
	case ErrEmptyResult:
		return "the download finished but produced no playable file"
	case ErrExhausted:
		return "download failed after retrying"
	default:
		return "could not resolve the remote video"
	}
}

// Classify maps an extractor failure onto an ErrorKind using the text of
// the error, which is all yt-dlp gives us.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrUnknown
	}
	var rerr *ResolutionError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return ErrExhausted
	}

	msg := strings.ToLower(err.Error())

	// Priority 1: access errors are the most specific
	if containsAny(msg, forbiddenKeywords) {
		return ErrForbidden
	}
	// Priority 2: the extractor did not understand the URL
	if containsAny(msg, malformedKeywords) {
		return ErrMalformed
	}
	// Priority 3: network trouble, worth retrying
	if containsAny(msg, networkKeywords) {
		return ErrUnreachable
	}
	return ErrUnknown
}

// Retryable reports whether err is a transient network failure.
func Retryable(err error) bool {
	return Classify(err) == ErrUnreachable
}

var forbiddenKeywords = []string{
	"http error 400",
	"http error 401",
	"http error 403",
	"bad request",
	"forbidden",
	"unauthorized",
	"private video",
	"sign in to confirm",
	"members-only",
	"not available in your country",
	"geo restricted",
	"video unavailable",
}

var malformedKeywords = []string{
	"unsupported url",
	"is not a valid url",
	"invalid url",
}

var networkKeywords = []string{
	"timed out",
	"timeout",
	"connection",
	"unreachable",
	"temporary failure",
	"name resolution",
	"network",
	"reset by peer",
	"http error 5",
	"incomplete read",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
