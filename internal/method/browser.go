package method

import (
	"context"
	"fmt"
	"strconv"

	"github.com/luispater/anyWebDriver/internal/driver"
	log "github.com/sirupsen/logrus"
)

func (m *Method) Get(ctx context.Context, url string) error {
	log.Debugf("Navigating to: %s", url)
	return m.driver.Get(ctx, url)
}

func (m *Method) Back(ctx context.Context) error {
	return m.driver.Navigate().Back(ctx)
}

func (m *Method) Forward(ctx context.Context) error {
	return m.driver.Navigate().Forward(ctx)
}

func (m *Method) Refresh(ctx context.Context) error {
	return m.driver.Navigate().Refresh(ctx)
}

func (m *Method) Title(ctx context.Context) (string, error) {
	return m.driver.Title(ctx)
}

func (m *Method) URL(ctx context.Context) (string, error) {
	return m.driver.CurrentURL(ctx)
}

func (m *Method) Source(ctx context.Context) (string, error) {
	return m.driver.PageSource(ctx)
}

// SwitchWindow focuses a window by handle, or by its position in the handle
// list when target is a number. It returns the handle now focused.
func (m *Method) SwitchWindow(ctx context.Context, target string) (string, error) {
	handle := driver.WindowHandle(target)
	if index, errAtoi := strconv.Atoi(target); errAtoi == nil {
		handles, err := m.driver.WindowHandles(ctx)
		if err != nil {
			return "", err
		}
		if index < 0 || index >= len(handles) {
			return "", fmt.Errorf("window index %d out of range, %d window(s) open", index, len(handles))
		}
		handle = handles[index]
	}
	if err := m.driver.SwitchTo(ctx, handle); err != nil {
		return "", err
	}
	return string(handle), nil
}

// Windows returns the number of open windows.
func (m *Method) Windows(ctx context.Context) (int, error) {
	handles, err := m.driver.WindowHandles(ctx)
	if err != nil {
		return 0, err
	}
	return len(handles), nil
}

func (m *Method) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}
