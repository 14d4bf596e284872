package telegram

import (
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	// ErrRemoteUnavailable covers transport failures: timeouts, refused
	// connections, DNS errors, undecodable replies and Telegram-side 5xx.
	ErrRemoteUnavailable = errors.New("telegram unavailable")

	// ErrRemoteRejected means Telegram answered and declined the call (bad
	// token, chat not found, missing administrator rights).
	ErrRemoteRejected = errors.New("telegram rejected request")
)

// RemoteError describes a failed Bot API call. It matches ErrRemoteUnavailable
// or ErrRemoteRejected through errors.Is depending on Kind.
type RemoteError struct {
	Kind        error
	Method      string
	Code        int
	Description string
	Cause       error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Description != "" && e.Code != 0:
		return fmt.Sprintf("%s: %s: %d %s", e.Kind, e.Method, e.Code, e.Description)
	case e.Description != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Method, e.Description)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Method, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Method)
	}
}

func (e *RemoteError) Is(target error) bool { return target == e.Kind }

func (e *RemoteError) Unwrap() error { return e.Cause }

// classify turns a MakeRequest error into a RemoteError.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		kind := ErrRemoteRejected
		if apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests {
			kind = ErrRemoteUnavailable
		}
		return &RemoteError{
			Kind:        kind,
			Method:      method,
			Code:        apiErr.Code,
			Description: apiErr.Message,
			Cause:       err,
		}
	}

	return &RemoteError{Kind: ErrRemoteUnavailable, Method: method, Cause: err}
}
