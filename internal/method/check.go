package method

import (
	"context"
	"fmt"
	"strings"
)

func (m *Method) ExpectTitle(ctx context.Context, expected string) error {
	title, err := m.driver.Title(ctx)
	if err != nil {
		return err
	}
	if title != strings.TrimSpace(expected) {
		return fmt.Errorf("title is %q, expected %q", title, expected)
	}
	return nil
}

func (m *Method) ExpectCount(ctx context.Context, by, value string, expected int) error {
	elements, err := m.FindAll(ctx, by, value)
	if err != nil {
		return err
	}
	if len(elements) != expected {
		return fmt.Errorf("%s=%q matched %d element(s), expected %d", by, value, len(elements), expected)
	}
	return nil
}

func (m *Method) ExpectText(ctx context.Context, by, value, expected string) error {
	text, err := m.Text(ctx, by, value)
	if err != nil {
		return err
	}
	if text != expected {
		return fmt.Errorf("%s=%q has text %q, expected %q", by, value, text, expected)
	}
	return nil
}

func (m *Method) ExpectURL(ctx context.Context, expected string) error {
	currentURL, err := m.driver.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if currentURL != expected {
		return fmt.Errorf("url is %q, expected %q", currentURL, expected)
	}
	return nil
}
