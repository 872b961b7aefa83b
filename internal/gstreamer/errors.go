package gstreamer

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies GStreamer bus errors for logs and user messages.
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates connection, timeout or DNS failures
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates decode, negotiation or missing plugin failures
	ErrCategoryCodec
	// ErrCategoryResource indicates a missing file or busy device
	ErrCategoryResource
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// ClassifyError categorizes a bus error. go-gst's GError does not expose
// the error domain, so classification relies on the message text.
func ClassifyError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classifyText(gerr.Error(), gerr.DebugString())
}

func classifyText(errMsg, debug string) ErrorCategory {
	combined := strings.ToLower(errMsg + " " + debug)

	// Priority 1: authentication errors (most specific)
	if containsAny(combined, authKeywords) {
		return ErrCategoryAuth
	}
	// Priority 2: local resources (files, devices)
	if containsAny(combined, resourceKeywords) {
		return ErrCategoryResource
	}
	// Priority 3: codec/format errors
	if containsAny(combined, codecKeywords) {
		return ErrCategoryCodec
	}
	// Priority 4: network errors
	if containsAny(combined, networkKeywords) {
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

var authKeywords = []string{
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"authentication",
	"credentials",
}

var resourceKeywords = []string{
	"no such file",
	"could not open file",
	"resource not found",
	"cannot identify device",
	"device is busy",
	"permission denied",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"negotiation",
	"not negotiated",
	"no decoder",
	"missing plugin",
	"could not determine type",
	"caps",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"unreachable",
	"network",
	"dns",
	"resolve",
	"socket",
	"could not connect",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
