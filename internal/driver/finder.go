package driver

import (
	"context"
	"fmt"

	"github.com/luispater/anyWebDriver/internal/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Finder resolves locators into element references, polling while the
// wait policy allows.
type Finder struct {
	dispatcher *Dispatcher
	policy     *WaitPolicy
	clock      Clock
}

func NewFinder(dispatcher *Dispatcher, policy *WaitPolicy, clock Clock) *Finder {
	if clock == nil {
		clock = SystemClock
	}
	return &Finder{dispatcher: dispatcher, policy: policy, clock: clock}
}

// Policy returns the wait policy in force.
func (f *Finder) Policy() *WaitPolicy {
	return f.policy
}

// withPolicy returns a finder sharing the dispatcher and clock.
func (f *Finder) withPolicy(policy *WaitPolicy) *Finder {
	return &Finder{dispatcher: f.dispatcher, policy: policy, clock: f.clock}
}

// FindOne returns the first match in document order. It polls until a match
// appears or the timeout elapses, then fails with NoSuchElement.
func (f *Finder) FindOne(ctx context.Context, s *Session, loc Locator) (*Element, error) {
	return f.findOne(ctx, s, nil, loc)
}

// FindAll polls once and returns whatever matched, possibly nothing.
// Absence is never an error.
func (f *Finder) FindAll(ctx context.Context, s *Session, loc Locator) ([]*Element, error) {
	return f.findAll(ctx, s, nil, loc)
}

func (f *Finder) findOne(ctx context.Context, s *Session, root *Element, loc Locator) (*Element, error) {
	cmd, params, err := lookupParams(protocol.FindElement, root, loc)
	if err != nil {
		return nil, err
	}

	cfg := f.policy.CurrentConfig()
	start := f.clock.Now()
	deadline := start.Add(cfg.Timeout)
	attempt := 0

	for {
		attempt++
		value, errExecute := f.dispatcher.Execute(ctx, s, cmd, params)
		if errExecute == nil {
			id := elementID(value)
			if id == "" {
				return nil, newError(KindRemote, cmd, "response carries no element reference", nil)
			}
			log.Debugf("Found %s after %d attempt(s)", loc, attempt)
			return &Element{id: id, session: s, dispatcher: f.dispatcher, finder: f}, nil
		}
		if KindOf(errExecute) != KindNoSuchElement {
			return nil, errExecute
		}

		now := f.clock.Now()
		if !now.Before(deadline) {
			return nil, newError(KindNoSuchElement, cmd, fmt.Sprintf("%s not found after %v", loc, now.Sub(start)), nil)
		}

		wait := cfg.interval()
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("find %s: %w", loc, ctx.Err())
		case <-f.clock.After(wait):
		}
	}
}

func (f *Finder) findAll(ctx context.Context, s *Session, root *Element, loc Locator) ([]*Element, error) {
	cmd, params, err := lookupParams(protocol.FindElements, root, loc)
	if err != nil {
		return nil, err
	}

	value, err := f.dispatcher.Execute(ctx, s, cmd, params)
	if err != nil {
		if KindOf(err) == KindNoSuchElement {
			return []*Element{}, nil
		}
		return nil, err
	}

	elements := make([]*Element, 0)
	for _, item := range value.Array() {
		if id := elementID(item); id != "" {
			elements = append(elements, &Element{id: id, session: s, dispatcher: f.dispatcher, finder: f})
		}
	}
	log.Debugf("Found %d element(s) for %s", len(elements), loc)
	return elements, nil
}

// lookupParams picks the document or element scoped command.
func lookupParams(cmd protocol.Command, root *Element, loc Locator) (protocol.Command, Params, error) {
	if !loc.valid() {
		return cmd, nil, newError(KindInvalidArgument, cmd, "invalid locator", nil)
	}
	using, value := loc.wire()
	params := Params{"using": using, "value": value}
	if root != nil {
		params[protocol.ParamElementID] = root.id
		if cmd == protocol.FindElement {
			cmd = protocol.FindElementFrom
		} else {
			cmd = protocol.FindElementsFrom
		}
	}
	return cmd, params, nil
}

func elementID(value gjson.Result) string {
	if id := value.Get(protocol.ElementKey); id.Exists() {
		return id.String()
	}
	return value.Get("ELEMENT").String()
}
