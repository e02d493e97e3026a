package core

// # Error Codes Reference
//
// User-facing error messages with codes for support reference. When users
// encounter errors, they can quote the code to support staff.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Patterns: "duplicate key"
//	DB002 - Unique constraint: This value must be unique but already exists
//	        Patterns: "unique constraint", "violates unique"
//	DB003 - Connection refused: Unable to connect to the database
//	        Patterns: "connection refused"
//	DB004 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//	DB005 - Not found: The record no longer exists
//	        Patterns: "record not found"
//	DB006 - Timeout: Operation timed out
//	        Patterns: "timeout"
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Required field: A required field is empty
//	         Patterns: "missing "
//	VAL002 - Invalid value: Value is not in the allowed list
//	         Patterns: "must be one of"
//	VAL003 - Out of range: Number is outside the allowed range
//	         Patterns: "out of range"
//	VAL004 - Invalid number: Invalid number format detected
//	         Patterns: "invalid number"
//	VAL005 - No mappable values: No column of the row matched a field
//	         Patterns: "no mappable values"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large"
//	FILE002 - Invalid CSV
//	          Patterns: "invalid csv"
//	FILE003 - No header row
//	          Patterns: "no header row"
//	FILE004 - No file
//	          Patterns: "no file provided"
//	FILE005 - No data rows
//	          Patterns: "no data rows"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled
//	         Patterns: "import cancelled"
//	IMP002 - System busy
//	         Patterns: "too many concurrent imports"
//	IMP003 - Import not found
//	         Patterns: "import not found"
//	IMP004 - Request cancelled
//	         Patterns: "context canceled"
//	IMP005 - Request timeout
//	         Patterns: "context deadline exceeded"
//
// # Entity Errors (ENT001-ENT099)
//
//	ENT001 - Unknown entity
//	         Patterns: "unknown entity"
//	ENT002 - Invalid entity configuration
//	         Patterns: "entity config"
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Invalid scope
//	         Patterns: "invalid export scope"
//	EXP002 - Unsupported format
//	         Patterns: "unsupported export format"
//	EXP003 - Archive unavailable
//	         Patterns: "archive storage not configured"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check application logs for the original
// technical error.
//
// Patterns are matched case-insensitively using strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Order matters: the first matching pattern wins.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Errors (DB001-DB007)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Remove the id column to import these rows as new records",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your CSV",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "record not found",
		msg: UserMessage{
			Message: "The record no longer exists",
			Action:  "Refresh and try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL005)
	// =========================================================================
	{
		pattern: "no mappable values",
		msg: UserMessage{
			Message: "No column of the row matched a known field",
			Action:  "Check the column headers against the entity's fields",
			Code:    "VAL005",
		},
	},
	{
		pattern: "missing ",
		msg: UserMessage{
			Message: "A required field is empty",
			Action:  "Ensure all required columns have values",
			Code:    "VAL001",
		},
	},
	{
		pattern: "must be one of",
		msg: UserMessage{
			Message: "Value is not in the allowed list",
			Action:  "Check the allowed values for this field",
			Code:    "VAL002",
		},
	},
	{
		pattern: "out of range",
		msg: UserMessage{
			Message: "Number is outside the allowed range",
			Action:  "Check the minimum and maximum for this field",
			Code:    "VAL003",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Use a plain decimal number",
			Code:    "VAL004",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma-separated with balanced quotes",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no header row",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Add a first row naming each column",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has a header but no data rows",
			Action:  "Please import a CSV file with data rows",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Import Errors (IMP001-IMP005)
	// =========================================================================
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import not found",
			Action:  "The import may have expired. Please start a new import",
			Code:    "IMP003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "IMP005",
		},
	},

	// =========================================================================
	// Entity Errors (ENT001-ENT002)
	// =========================================================================
	{
		pattern: "unknown entity",
		msg: UserMessage{
			Message: "Unknown entity",
			Action:  "Use one of contacts, leads, deals or meetings",
			Code:    "ENT001",
		},
	},
	{
		pattern: "entity config",
		msg: UserMessage{
			Message: "Entity configuration is invalid",
			Action:  "Contact support",
			Code:    "ENT002",
		},
	},

	// =========================================================================
	// Export Errors (EXP001-EXP003)
	// =========================================================================
	{
		pattern: "invalid export scope",
		msg: UserMessage{
			Message: "Unknown export scope",
			Action:  "Use all, selected or filtered",
			Code:    "EXP001",
		},
	},
	{
		pattern: "unsupported export format",
		msg: UserMessage{
			Message: "Unsupported export format",
			Action:  "Use csv or xlsx",
			Code:    "EXP002",
		},
	},
	{
		pattern: "archive storage not configured",
		msg: UserMessage{
			Message: "Export archiving is not available",
			Action:  "Download the export directly instead",
			Code:    "EXP003",
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

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	msg := MapError(ErrNoHeader)
//	// msg.Code == "FILE003"
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

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern (anything but ERR000).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
