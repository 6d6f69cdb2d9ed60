package core

// Error codes are grouped by category so users can quote them to support:
//
//	IMP001-IMP099  import and replay problems
//	FILE001-FILE099  uploaded file problems
//	CFG001-CFG099  entity configuration problems
//	DB001-DB099  store problems
//	RATE001  request throttling
//	ERR000  fallback; check the logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Errors (IMP001-IMP005)
	// =========================================================================
	{
		pattern: "invalid keys",
		msg: UserMessage{
			Message: "Unknown entity requested for export",
			Action:  "Pick entities from the configured list",
			Code:    "IMP001",
		},
	},
	{
		pattern: "unknown entity",
		msg: UserMessage{
			Message: "Unknown entity",
			Action:  "Check the entity key against the configured list",
			Code:    "IMP002",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP003",
		},
	},
	{
		pattern: "invalid diff",
		msg: UserMessage{
			Message: "The submitted changes could not be read",
			Action:  "Run the preview again and resubmit its result",
			Code:    "IMP004",
		},
	},
	{
		pattern: "unknown format",
		msg: UserMessage{
			Message: "Unsupported export format",
			Action:  "Use one of csv, json, yaml, xlsx or txt",
			Code:    "IMP005",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid file type",
		msg: UserMessage{
			Message: "File type is not supported",
			Action:  "Upload a csv, json, yaml or xlsx file",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding not identified",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save the file as UTF-8",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty or invalid file",
		msg: UserMessage{
			Message: "The uploaded file is empty or unreadable",
			Action:  "Upload a file with a header row and data rows",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Configuration Errors (CFG001-CFG003)
	// =========================================================================
	{
		pattern: "cycle detected",
		msg: UserMessage{
			Message: "Entities reference each other in a cycle",
			Action:  "Remove one of the relationships from the catalog",
			Code:    "CFG001",
		},
	},
	{
		pattern: "is shared by entities",
		msg: UserMessage{
			Message: "Two entities use the same id column",
			Action:  "Give every entity a distinct id column",
			Code:    "CFG002",
		},
	},
	{
		pattern: "has no attribute",
		msg: UserMessage{
			Message: "A mapping names an attribute the model does not have",
			Action:  "Check the catalog field names",
			Code:    "CFG003",
		},
	},

	// =========================================================================
	// Store Errors (DB001-DB004)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError keeps the technical error for logging alongside the message
// shown to users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
