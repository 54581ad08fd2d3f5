// Package method holds the steps a scenario can call. Every exported method
// of Method is a step; the runner calls them by name.
package method

import (
	"fmt"
	"strings"

	"github.com/luispater/anyWebDriver/internal/driver"
)

type Method struct {
	driver driver.WebDriver
}

func NewMethod(d driver.WebDriver) *Method {
	return &Method{
		driver: d,
	}
}

// short strategy names accepted in scenarios
var strategyAliases = map[string]driver.Strategy{
	"css":     driver.ByCSSSelector,
	"link":    driver.ByLinkText,
	"partial": driver.ByPartialLinkText,
	"tag":     driver.ByTagName,
	"class":   driver.ByClassName,
}

// Locator builds a locator from a strategy name or one of its short forms.
func Locator(by, value string) (driver.Locator, error) {
	strategy := driver.Strategy(strings.TrimSpace(by))
	if alias, ok := strategyAliases[string(strategy)]; ok {
		strategy = alias
	}
	loc, err := driver.NewLocator(strategy, value)
	if err != nil {
		return driver.Locator{}, fmt.Errorf("locator %s=%q: %w", by, value, err)
	}
	return loc, nil
}
