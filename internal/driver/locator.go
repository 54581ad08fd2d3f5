package driver

import (
	"fmt"
	"strings"
)

// Strategy is a locating mechanism.
type Strategy string

const (
	ByID              Strategy = "id"
	ByName            Strategy = "name"
	ByCSSSelector     Strategy = "css selector"
	ByXPath           Strategy = "xpath"
	ByLinkText        Strategy = "link text"
	ByPartialLinkText Strategy = "partial link text"
	ByTagName         Strategy = "tag name"
	ByClassName       Strategy = "class name"
)

var strategies = map[Strategy]bool{
	ByID:              true,
	ByName:            true,
	ByCSSSelector:     true,
	ByXPath:           true,
	ByLinkText:        true,
	ByPartialLinkText: true,
	ByTagName:         true,
	ByClassName:       true,
}

// Locator identifies elements on a page. The zero value is invalid; use NewLocator or By.
type Locator struct {
	strategy Strategy
	value    string
}

// NewLocator validates strategy and value.
func NewLocator(strategy Strategy, value string) (Locator, error) {
	if !strategies[strategy] {
		return Locator{}, newError(KindInvalidArgument, "", fmt.Sprintf("unknown locator strategy %q", strategy), nil)
	}
	if strings.TrimSpace(value) == "" {
		return Locator{}, newError(KindInvalidArgument, "", fmt.Sprintf("empty %s locator", strategy), nil)
	}
	return Locator{strategy: strategy, value: value}, nil
}

// By is NewLocator for literal strategies known to be valid. It panics on invalid input.
func By(strategy Strategy, value string) Locator {
	loc, err := NewLocator(strategy, value)
	if err != nil {
		panic(err)
	}
	return loc
}

func (l Locator) Strategy() Strategy {
	return l.strategy
}

func (l Locator) Value() string {
	return l.value
}

func (l Locator) String() string {
	return fmt.Sprintf("By(%s: %s)", l.strategy, l.value)
}

func (l Locator) valid() bool {
	return strategies[l.strategy] && l.value != ""
}

// wire translates the locator to a W3C strategy. id, name and class name become CSS.
func (l Locator) wire() (string, string) {
	switch l.strategy {
	case ByID:
		return string(ByCSSSelector), "#" + cssEscape(l.value)
	case ByName:
		return string(ByCSSSelector), fmt.Sprintf(`*[name="%s"]`, cssStringEscaper.Replace(l.value))
	case ByClassName:
		return string(ByCSSSelector), "." + cssEscape(l.value)
	}
	return string(l.strategy), l.value
}

var cssStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// cssEscape escapes characters that are not valid in a bare CSS identifier.
func cssEscape(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r >= 0x80:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, `\%x `, r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
