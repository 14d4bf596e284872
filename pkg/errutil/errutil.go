package errutil

import (
	"errors"
	"fmt"

	"github.com/small-frappuccino/tgperms/pkg/access"
	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
	"github.com/small-frappuccino/tgperms/pkg/telegram"
	"github.com/small-frappuccino/tgperms/pkg/webapp"
)

// Code is the stable, machine-readable error identifier returned to
// control panel callers.
type Code string

const (
	CodeNone              Code = ""
	CodeRemoteUnavailable Code = "remote_unavailable"
	CodeRemoteRejected    Code = "remote_rejected"
	CodeUnknownField      Code = "unknown_field"
	CodeInconsistent      Code = "inconsistent"
	CodeUnauthorized      Code = "unauthorized"
	CodeInvalidRequest    Code = "invalid_request"
	CodeInternal          Code = "internal"
)

// Severity drives the log level an error is reported at.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Coder is implemented by errors that know their own Code.
type Coder interface {
	Code() Code
}

// Classify maps an error chain to its Code. Unrecognized errors are internal.
func Classify(err error) Code {
	if err == nil {
		return CodeNone
	}

	var coder Coder
	if errors.As(err, &coder) {
		return coder.Code()
	}

	switch {
	case errors.Is(err, access.ErrUnauthorized), errors.Is(err, webapp.ErrInvalidInitData):
		return CodeUnauthorized
	case errors.Is(err, permissions.ErrUnknownField):
		return CodeUnknownField
	case errors.Is(err, permissions.ErrIncomplete):
		return CodeInvalidRequest
	case errors.Is(err, telegram.ErrRemoteUnavailable):
		return CodeRemoteUnavailable
	case errors.Is(err, telegram.ErrRemoteRejected):
		return CodeRemoteRejected
	default:
		return CodeInternal
	}
}

// Recoverable reports whether simply repeating the operation later may
// succeed. Rejections and inconsistencies need an operator first.
func (c Code) Recoverable() bool {
	return c == CodeRemoteUnavailable
}

// Severity of a code, for logging.
func (c Code) Severity() Severity {
	switch c {
	case CodeRemoteRejected, CodeInconsistent, CodeInternal:
		return SeverityHigh
	case CodeRemoteUnavailable:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Hint is the corrective action shown next to an error in the panel.
func (c Code) Hint() string {
	switch c {
	case CodeRemoteUnavailable:
		return "Telegram could not be reached; try again."
	case CodeRemoteRejected:
		return "Telegram refused the change; check that the bot is an administrator allowed to restrict members."
	case CodeUnknownField:
		return "This permission is not managed by this panel."
	case CodeInconsistent:
		return "Telegram accepted the change but reports different settings; sync to see the real state."
	case CodeUnauthorized:
		return "You are not allowed to manage this chat."
	case CodeInvalidRequest:
		return "The request was malformed."
	case CodeInternal:
		return "Unexpected error; see the server logs."
	default:
		return ""
	}
}

// Report logs err with a level derived from its Code and returns the Code.
func Report(component, operation string, err error) Code {
	code := Classify(err)
	if err == nil {
		return code
	}

	attrs := []any{"component", component, "operation", operation, "code", string(code), "recoverable", code.Recoverable(), "err", err}
	switch code.Severity() {
	case SeverityHigh:
		log.ErrorLoggerRaw().Error("Operation failed", attrs...)
	case SeverityMedium:
		log.ApplicationLogger().Warn("Operation failed", attrs...)
	default:
		log.ApplicationLogger().Info("Operation failed", attrs...)
	}
	return code
}

// HandleTelegramError runs fn and logs any error as a Bot API failure. The
// error is returned unmodified.
func HandleTelegramError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}
	err := fn()
	if err != nil {
		Report("telegram", operation, err)
	}
	return err
}

// HandleConfigError runs fn and wraps any error with the operation and source.
func HandleConfigError(operation, source string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}
	err := fn()
	if err == nil {
		return nil
	}
	log.ErrorLoggerRaw().Error("Config operation failed", "operation", operation, "source", source, "err", err)
	return fmt.Errorf("config %s %s: %w", operation, source, err)
}
