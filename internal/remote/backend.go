package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/luispater/anyWebDriver/internal/protocol"
	"github.com/tidwall/gjson"
)

// Backend starts browser sessions for the endpoint.
type Backend interface {
	NewSession(ctx context.Context, capabilities gjson.Result) (BrowserSession, error)
}

// BrowserSession is one automated browser. The endpoint never calls it
// concurrently. Element ids are opaque strings chosen by the implementation;
// root "" scopes a lookup to the whole document.
type BrowserSession interface {
	Capabilities() map[string]any

	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Refresh(ctx context.Context) error

	FindElements(ctx context.Context, using, value, root string) ([]string, error)
	ElementText(ctx context.Context, id string) (string, error)
	ElementClick(ctx context.Context, id string) error
	ElementAttribute(ctx context.Context, id, name string) (string, bool, error)

	WindowHandles(ctx context.Context) ([]string, error)
	WindowHandle(ctx context.Context) (string, error)
	SwitchToWindow(ctx context.Context, handle string) error
	// CloseWindow closes the current window and returns the handles still open.
	CloseWindow(ctx context.Context) ([]string, error)

	Quit(ctx context.Context) error
}

// Error is a failure with a W3C error code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// errorCode maps any backend error onto a W3C code.
func errorCode(err error) (string, string) {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Code, remoteErr.Message
	}
	if errors.Is(err, ErrQueueStopped) {
		return protocol.CodeInvalidSessionID, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.CodeTimeout, err.Error()
	}
	return protocol.CodeUnknownError, err.Error()
}

// strategies the endpoint accepts on the wire.
var strategies = map[string]bool{
	"css selector":      true,
	"link text":         true,
	"partial link text": true,
	"tag name":          true,
	"xpath":             true,
}
