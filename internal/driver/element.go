package driver

import (
	"context"

	"github.com/luispater/anyWebDriver/internal/protocol"
	"github.com/tidwall/gjson"
)

// Element is a reference to a remote DOM element, valid while its session is
// open and the page it was found on is loaded.
type Element struct {
	id         string
	session    *Session
	dispatcher *Dispatcher
	finder     *Finder
}

func (e *Element) ID() string {
	return e.id
}

func (e *Element) Session() *Session {
	return e.session
}

func (e *Element) Text(ctx context.Context) (string, error) {
	value, err := e.dispatcher.Execute(ctx, e.session, protocol.GetElementText, Params{protocol.ParamElementID: e.id})
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func (e *Element) Click(ctx context.Context) error {
	_, err := e.dispatcher.Execute(ctx, e.session, protocol.ElementClick, Params{protocol.ParamElementID: e.id})
	return err
}

// Attribute returns the attribute value and whether the attribute is set.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	value, err := e.dispatcher.Execute(ctx, e.session, protocol.GetElementAttribute, Params{
		protocol.ParamElementID: e.id,
		protocol.ParamName:      name,
	})
	if err != nil {
		return "", false, err
	}
	if value.Type == gjson.Null {
		return "", false, nil
	}
	return value.String(), true, nil
}

// FindElement searches below this element, with the same waiting as the page lookup.
func (e *Element) FindElement(ctx context.Context, loc Locator) (*Element, error) {
	return e.finder.findOne(ctx, e.session, e, loc)
}

func (e *Element) FindElements(ctx context.Context, loc Locator) ([]*Element, error) {
	return e.finder.findAll(ctx, e.session, e, loc)
}
