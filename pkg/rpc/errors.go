package rpc

import (
	"errors"
	"fmt"

	"github.com/Bronek/clio/pkg/backend"
)

// ErrorCode identifies an RPC error. Codes below 5000 match the upstream
// node's codes; 5000 and above are specific to this gateway.
type ErrorCode int

const (
	CodeUnknown         ErrorCode = -1
	CodeBadSyntax       ErrorCode = 1
	CodeNoPermission    ErrorCode = 6
	CodeTooBusy         ErrorCode = 9
	CodeSlowDown        ErrorCode = 10
	CodeNotReady        ErrorCode = 13
	CodeLgrNotFound     ErrorCode = 21
	CodeInvalidParams   ErrorCode = 31
	CodeUnknownCmd      ErrorCode = 32
	CodeLgrIdxMalformed ErrorCode = 58
	CodeInternal        ErrorCode = 73
	CodeNotSupported    ErrorCode = 75
	CodeFailedToForward ErrorCode = 90

	CodeMalformedRequest  ErrorCode = 5001
	CodeInvalidAPIVersion ErrorCode = 6000
	CodeCommandIsMissing  ErrorCode = 6001
	CodeCommandNotString  ErrorCode = 6002
	CodeCommandIsEmpty    ErrorCode = 6003
	CodeParamsUnparseable ErrorCode = 6004
)

type errorInfo struct {
	token   string
	message string
}

var errorInfos = map[ErrorCode]errorInfo{
	CodeUnknown:         {"unknown", "An unknown error code."},
	CodeBadSyntax:       {"badSyntax", "Syntax error."},
	CodeNoPermission:    {"noPermission", "You don't have permission for this command."},
	CodeTooBusy:         {"tooBusy", "The server is too busy to help you now."},
	CodeSlowDown:        {"slowDown", "You are placing too much load on the server."},
	CodeNotReady:        {"notReady", "Not ready to handle this request."},
	CodeLgrNotFound:     {"lgrNotFound", "ledgerNotFound"},
	CodeInvalidParams:   {"invalidParams", "Invalid parameters."},
	CodeUnknownCmd:      {"unknownCmd", "Unknown method."},
	CodeLgrIdxMalformed: {"lgrIdxMalformed", "Ledger index malformed."},
	CodeInternal:        {"internal", "Internal error."},
	CodeNotSupported:    {"notSupported", "Operation not supported."},
	CodeFailedToForward: {"failedToForward", "Failed to forward request to p2p node"},

	CodeMalformedRequest:  {"malformedRequest", "Malformed request."},
	CodeInvalidAPIVersion: {"invalid_API_version", "Invalid API version."},
	CodeCommandIsMissing:  {"missingCommand", "Method is not specified or is not a string."},
	CodeCommandNotString:  {"commandNotString", "Method is not a string."},
	CodeCommandIsEmpty:    {"emptyCommand", "Method is an empty string."},
	CodeParamsUnparseable: {"paramsUnparseable", "Params must be an array holding exactly one object."},
}

func (c ErrorCode) info() errorInfo {
	if info, ok := errorInfos[c]; ok {
		return info
	}
	return errorInfos[CodeUnknown]
}

// Token is the short error name sent in the "error" field.
func (c ErrorCode) Token() string {
	return c.info().token
}

// IsGatewaySpecific reports whether the code is not known to the upstream node.
func (c ErrorCode) IsGatewaySpecific() bool {
	return c >= 5000
}

// Status is a typed RPC failure. Message and Token override the defaults
// registered for Code when set.
type Status struct {
	Code    ErrorCode
	Message string
	Token   string
	Extra   map[string]any
}

// NewStatus creates a status with the default token and message for code.
func NewStatus(code ErrorCode) Status {
	return Status{Code: code}
}

// NewStatusMessage creates a status with a custom message.
func NewStatusMessage(code ErrorCode, message string) Status {
	return Status{Code: code, Message: message}
}

func (s Status) Error() string {
	return fmt.Sprintf("%s: %s", s.ErrorToken(), s.ErrorMessage())
}

func (s Status) ErrorToken() string {
	if s.Token != "" {
		return s.Token
	}
	return s.Code.Token()
}

func (s Status) ErrorMessage() string {
	if s.Message != "" {
		return s.Message
	}
	return s.Code.info().message
}

// AsStatus converts err to a Status. Database timeouts become tooBusy and
// anything else that is not already a Status becomes internal.
func AsStatus(err error) Status {
	var status Status
	if errors.As(err, &status) {
		return status
	}
	if errors.Is(err, backend.ErrDatabaseTimeout) {
		return NewStatus(CodeTooBusy)
	}
	return NewStatus(CodeInternal)
}

// MakeError renders a status as an error object.
func MakeError(s Status) map[string]any {
	out := map[string]any{
		"error":         s.ErrorToken(),
		"error_code":    int(s.Code),
		"error_message": s.ErrorMessage(),
		"status":        "error",
		"type":          "response",
	}
	for k, v := range s.Extra {
		out[k] = v
	}
	return out
}

// WarningCode identifies a response warning.
type WarningCode int

const (
	WarnClio     WarningCode = 2001
	WarnOutdated WarningCode = 2002
)

var warningMessages = map[WarningCode]string{
	WarnClio:     "This is a clio server. clio only serves validated data. If you want to talk to rippled, include 'ledger_index':'current' in your request",
	WarnOutdated: "This server may be out of date",
}

// MakeWarning renders a warning entry for the "warnings" array.
func MakeWarning(code WarningCode) map[string]any {
	return map[string]any{
		"id":      int(code),
		"message": warningMessages[code],
	}
}
