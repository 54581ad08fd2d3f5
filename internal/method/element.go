package method

import (
	"context"
	"fmt"

	"github.com/luispater/anyWebDriver/internal/driver"
	log "github.com/sirupsen/logrus"
)

func (m *Method) Find(ctx context.Context, by, value string) (*driver.Element, error) {
	loc, err := Locator(by, value)
	if err != nil {
		return nil, err
	}
	return m.driver.FindElement(ctx, loc)
}

func (m *Method) FindAll(ctx context.Context, by, value string) ([]*driver.Element, error) {
	loc, err := Locator(by, value)
	if err != nil {
		return nil, err
	}
	return m.driver.FindElements(ctx, loc)
}

func (m *Method) Click(ctx context.Context, by, value string) error {
	element, err := m.Find(ctx, by, value)
	if err != nil {
		return err
	}
	log.Debugf("Clicking %s=%q", by, value)
	return element.Click(ctx)
}

func (m *Method) Text(ctx context.Context, by, value string) (string, error) {
	element, err := m.Find(ctx, by, value)
	if err != nil {
		return "", err
	}
	return element.Text(ctx)
}

// Attribute fails when the attribute is not set.
func (m *Method) Attribute(ctx context.Context, by, value, name string) (string, error) {
	element, err := m.Find(ctx, by, value)
	if err != nil {
		return "", err
	}
	attr, ok, err := element.Attribute(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("element %s=%q has no attribute %q", by, value, name)
	}
	return attr, nil
}

// ClickElement clicks an element saved by an earlier step.
func (m *Method) ClickElement(ctx context.Context, element *driver.Element) error {
	if element == nil {
		return fmt.Errorf("no element to click")
	}
	return element.Click(ctx)
}

// ElementText reads the text of an element saved by an earlier step.
func (m *Method) ElementText(ctx context.Context, element *driver.Element) (string, error) {
	if element == nil {
		return "", fmt.Errorf("no element to read")
	}
	return element.Text(ctx)
}
