package driver

import (
	"context"
	"fmt"

	"github.com/luispater/anyWebDriver/internal/protocol"
	"github.com/tidwall/gjson"
)

// WindowHandle identifies one window or tab within a session.
type WindowHandle string

// WindowRegistry reads window state from the remote on every call; windows
// may open or close without the driver knowing.
type WindowRegistry struct {
	dispatcher *Dispatcher
}

func NewWindowRegistry(dispatcher *Dispatcher) *WindowRegistry {
	return &WindowRegistry{dispatcher: dispatcher}
}

func (r *WindowRegistry) Handles(ctx context.Context, s *Session) ([]WindowHandle, error) {
	value, err := r.dispatcher.Execute(ctx, s, protocol.GetWindowHandles, nil)
	if err != nil {
		return nil, err
	}
	return toHandles(value.Array()), nil
}

func (r *WindowRegistry) Current(ctx context.Context, s *Session) (WindowHandle, error) {
	value, err := r.dispatcher.Execute(ctx, s, protocol.GetWindowHandle, nil)
	if err != nil {
		return "", err
	}
	return WindowHandle(value.String()), nil
}

// SwitchTo focuses handle. Unknown handles fail with NoSuchWindow without
// touching the remote focus.
func (r *WindowRegistry) SwitchTo(ctx context.Context, s *Session, handle WindowHandle) error {
	handles, err := r.Handles(ctx, s)
	if err != nil {
		return err
	}
	if !containsHandle(handles, handle) {
		return newError(KindNoSuchWindow, protocol.SwitchToWindow, fmt.Sprintf("window %q is not open", handle), nil)
	}
	_, err = r.dispatcher.Execute(ctx, s, protocol.SwitchToWindow, Params{"handle": string(handle)})
	return err
}

// closeCurrent closes the focused window and returns the handles left open.
func (r *WindowRegistry) closeCurrent(ctx context.Context, s *Session) ([]WindowHandle, error) {
	value, err := r.dispatcher.Execute(ctx, s, protocol.CloseWindow, nil)
	if err != nil {
		return nil, err
	}
	return toHandles(value.Array()), nil
}

func toHandles(items []gjson.Result) []WindowHandle {
	handles := make([]WindowHandle, 0, len(items))
	for _, item := range items {
		handles = append(handles, WindowHandle(item.String()))
	}
	return handles
}

func containsHandle(handles []WindowHandle, handle WindowHandle) bool {
	for _, h := range handles {
		if h == handle {
			return true
		}
	}
	return false
}
