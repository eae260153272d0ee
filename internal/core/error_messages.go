// Error codes reference.
//
// User-facing failures carry a short message, a suggested action and a code
// operators can quote to support. Errors are classified by kind first (the
// sentinel errors below, matched with errors.Is), then by known technical
// patterns in the error text, then fall back to ERR000.
//
// # Engine errors
//
//	VAL001 - Validation: required input is missing or malformed
//	NF001  - Not found: session, table or record does not exist
//	MIG001 - Empty selection: no records are selected for migration
//	MIG002 - Execution in progress: the session is already being executed
//	FILE001 - Unreadable workbook: file could not be parsed
//	UPL002 - System busy: too many heavy operations in progress
//
// # Database errors
//
//	DB001 - Duplicate key
//	DB003 - Foreign key: referenced record does not exist
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # File errors
//
//	FILE002 - File too large
//	FILE003 - Legacy .xls format
//	FILE004 - No file provided
//	FILE005 - Empty file
//
// # Request errors
//
//	UPL004 - Request cancelled
//	UPL005 - Request timed out
//	RATE001 - Rate limited
package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Engine operations wrap one of these so callers can branch
// with errors.Is without parsing messages.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrEmptySelection      = errors.New("no records selected for migration")
	ErrParse               = errors.New("unreadable workbook")
	ErrExecutionInProgress = errors.New("migration already running for this session")
)

// validationError reports missing or malformed caller input.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundError builds the error stores return for a missing entity.
func NotFoundError(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorKind struct {
	kind error
	msg  UserMessage
}

// errorKinds is checked before errorPatterns.
var errorKinds = []errorKind{
	{ErrValidation, UserMessage{Message: "Some required input is missing or invalid", Action: "Check the request and try again", Code: "VAL001"}},
	{ErrNotFound, UserMessage{Message: "The requested item was not found", Action: "It may have been deleted; refresh and try again", Code: "NF001"}},
	{ErrEmptySelection, UserMessage{Message: "No records are selected for migration", Action: "Select at least one record first", Code: "MIG001"}},
	{ErrExecutionInProgress, UserMessage{Message: "This migration is already running", Action: "Wait for the current run to finish", Code: "MIG002"}},
	{ErrBusy, UserMessage{Message: "System is busy processing other files", Action: "Please wait a moment and try again", Code: "UPL002"}},
	{ErrParse, UserMessage{Message: "The file could not be read as a spreadsheet", Action: "Upload an .xlsx or .csv file", Code: "FILE001"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. The first match wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{Message: "A record with this ID already exists", Action: "Review the data for duplicates", Code: "DB001"}},
	{"violates foreign key", UserMessage{Message: "Referenced record does not exist", Action: "Ensure the referenced table still exists", Code: "DB003"}},
	{"connection refused", UserMessage{Message: "Unable to connect to database", Action: "Please try again in a few moments", Code: "DB004"}},
	{"connection reset", UserMessage{Message: "Database connection was interrupted", Action: "Please try again", Code: "DB005"}},
	{"deadlock", UserMessage{Message: "Database was busy with conflicting operations", Action: "Please try again", Code: "DB007"}},
	{"context deadline exceeded", UserMessage{Message: "Request timed out", Action: "Try a smaller file or try again later", Code: "UPL005"}},
	{"timeout", UserMessage{Message: "Operation timed out", Action: "Try a smaller file or try again later", Code: "DB006"}},
	{"context canceled", UserMessage{Message: "Request was cancelled", Action: "Please try again", Code: "UPL004"}},
	{"file too large", UserMessage{Message: "File exceeds the maximum upload size", Action: "Split the file into smaller workbooks", Code: "FILE002"}},
	{"legacy .xls", UserMessage{Message: "Excel 97-2003 (.xls) files are not supported", Action: "Save the file as .xlsx and upload again", Code: "FILE003"}},
	{"no file provided", UserMessage{Message: "No file was selected", Action: "Please select a spreadsheet to upload", Code: "FILE004"}},
	{"empty file", UserMessage{Message: "The uploaded file is empty", Action: "Please upload a spreadsheet with data rows", Code: "FILE005"}},
	{"rate limit", UserMessage{Message: "Too many requests", Action: "Please wait a moment before trying again", Code: "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check application logs for the original technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	err := fmt.Errorf("execute session 4: %w", ErrEmptySelection)
//	msg := MapError(err)
//	// msg.Code == "MIG001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	// Specific patterns beat the generic parse kind so a legacy .xls upload
	// gets its own advice.
	if errors.Is(err, ErrParse) {
		for _, ep := range errorPatterns {
			if strings.Contains(errStr, ep.pattern) {
				return ep.msg
			}
		}
	}

	for _, ek := range errorKinds {
		if errors.Is(err, ek.kind) {
			return ek.msg
		}
	}

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

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
