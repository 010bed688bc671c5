package core

// # Error Codes Reference
//
// User-facing errors carry a code that can be quoted to support staff.
// Typed errors are classified first; anything else falls through to the
// case-insensitive pattern table below.
//
// # Schema Errors (SCH001-SCH099)
//
//	SCH001 - Missing columns: the file lacks one or more required columns
//	         Action: Download the template and match its header row exactly
//	SCH002 - Unreadable file: the file could not be read as a table
//	         Action: Save the manifest as CSV (UTF-8) or XLSX
//
// # Storage Errors (STO001-STO099)
//
//	STO001 - Storage failure: nothing from the file was saved
//	         Action: Retry the whole file
//	STO002 - Connection refused        Patterns: "connection refused"
//	STO003 - Connection reset          Patterns: "connection reset"
//	STO004 - Timeout                   Patterns: "timeout", "context deadline exceeded"
//	STO005 - Busy / locked             Patterns: "deadlock", "database is locked"
//
// # Query Errors (QRY001-QRY099)
//
//	QRY001 - Invalid query: unknown mode, filter or search field
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large           Patterns: "file too large"
//	FILE004 - No file                  Patterns: "no file provided"
//	FILE005 - Empty file               Patterns: "empty file"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - Writer busy: another ingestion holds the writer slot
//	UPL003 - Upload not found
//	UPL004 - Request cancelled         Patterns: "context canceled"
//	UPL005 - Inbox not configured
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests        Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check application logs for the original
// technical error when users report ERR000.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
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

var (
	msgEmptyFile = UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a manifest with a header row and data rows",
		Code:    "FILE005",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the manifest into smaller files",
		Code:    "FILE001",
	}
	msgWriterBusy = UserMessage{
		Message: "Another manifest is being ingested",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgNotFound = UserMessage{
		Message: "Upload not found",
		Action:  "Refresh the upload list and pick an existing upload",
		Code:    "UPL003",
	}
	msgStorage = UserMessage{
		Message: "The manifest could not be saved; nothing was written",
		Action:  "Retry the whole file",
		Code:    "STO001",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. The first match wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	// Storage connectivity
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "STO002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "STO003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "STO004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "STO004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "STO005",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "STO005",
		},
	},

	// Files
	{pattern: "file too large", msg: msgFileTooLarge},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or XLSX manifest to upload",
			Code:    "FILE004",
		},
	},
	{pattern: "empty file", msg: msgEmptyFile},

	// Requests
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := svc.Ingest(ctx, "vessel.csv", r)
//	msg := MapError(err)
//	// msg.Code == "SCH001" when required columns are missing
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var se *store.StorageError
	if errors.As(err, &se) {
		return msgStorage
	}
	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		schemaErr *manifest.SchemaError
		queryErr  *QueryError
	)
	switch {
	case errors.As(err, &schemaErr):
		if schemaErr.Reason == "empty file" {
			return msgEmptyFile, true
		}
		if schemaErr.Reason != "" {
			return UserMessage{
				Message: "The file could not be read as a manifest",
				Action:  "Save the manifest as CSV (UTF-8) or XLSX",
				Code:    "SCH002",
			}, true
		}
		return UserMessage{
			Message: "Missing required columns: " + strings.Join(schemaErr.Missing, ", "),
			Action:  "Download the template and match its header row exactly",
			Code:    "SCH001",
		}, true
	case errors.As(err, &queryErr):
		return UserMessage{
			Message: fmt.Sprintf("Unknown %s %q", queryErr.Param, queryErr.Value),
			Action:  "Check the mode, filter and search field parameters",
			Code:    "QRY001",
		}, true
	case errors.Is(err, ErrFileTooLarge):
		return msgFileTooLarge, true
	case errors.Is(err, ErrWriterBusy):
		return msgWriterBusy, true
	case errors.Is(err, store.ErrNotFound):
		return msgNotFound, true
	case errors.Is(err, ErrNoInbox):
		return UserMessage{
			Message: "No inbox directory is configured",
			Action:  "Set UPLOAD_INBOX_DIR and restart the service",
			Code:    "UPL005",
		}, true
	case errors.Is(err, context.Canceled):
		return UserMessage{Message: "Request was cancelled", Action: "Please try again", Code: "UPL004"}, true
	}
	return UserMessage{}, false
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
