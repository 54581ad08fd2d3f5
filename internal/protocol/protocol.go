package protocol

import (
	"fmt"
	"net/http"
	"strings"
)

// Command names a single remote driver operation.
type Command string

const (
	Status              Command = "status"
	NewSession          Command = "newSession"
	DeleteSession       Command = "deleteSession"
	NavigateTo          Command = "navigateTo"
	GetCurrentURL       Command = "getCurrentUrl"
	GetTitle            Command = "getTitle"
	GetPageSource       Command = "getPageSource"
	Back                Command = "back"
	Forward             Command = "forward"
	Refresh             Command = "refresh"
	FindElement         Command = "findElement"
	FindElements        Command = "findElements"
	FindElementFrom     Command = "findElementFromElement"
	FindElementsFrom    Command = "findElementsFromElement"
	GetElementText      Command = "getElementText"
	ElementClick        Command = "elementClick"
	GetElementAttribute Command = "getElementAttribute"
	CloseWindow         Command = "closeWindow"
	GetWindowHandles    Command = "getWindowHandles"
	GetWindowHandle     Command = "getWindowHandle"
	SwitchToWindow      Command = "switchToWindow"
)

// ElementKey is the W3C web element identifier key.
const ElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Path parameter names shared by routes.
const (
	ParamSessionID = "sessionId"
	ParamElementID = "elementId"
	ParamName      = "name"
)

// Route is the HTTP method and path template of a command.
// Path segments starting with ':' are placeholders.
type Route struct {
	Method string
	Path   string
}

var Routes = map[Command]Route{
	Status:              {http.MethodGet, "/status"},
	NewSession:          {http.MethodPost, "/session"},
	DeleteSession:       {http.MethodDelete, "/session/:sessionId"},
	NavigateTo:          {http.MethodPost, "/session/:sessionId/url"},
	GetCurrentURL:       {http.MethodGet, "/session/:sessionId/url"},
	GetTitle:            {http.MethodGet, "/session/:sessionId/title"},
	GetPageSource:       {http.MethodGet, "/session/:sessionId/source"},
	Back:                {http.MethodPost, "/session/:sessionId/back"},
	Forward:             {http.MethodPost, "/session/:sessionId/forward"},
	Refresh:             {http.MethodPost, "/session/:sessionId/refresh"},
	FindElement:         {http.MethodPost, "/session/:sessionId/element"},
	FindElements:        {http.MethodPost, "/session/:sessionId/elements"},
	FindElementFrom:     {http.MethodPost, "/session/:sessionId/element/:elementId/element"},
	FindElementsFrom:    {http.MethodPost, "/session/:sessionId/element/:elementId/elements"},
	GetElementText:      {http.MethodGet, "/session/:sessionId/element/:elementId/text"},
	ElementClick:        {http.MethodPost, "/session/:sessionId/element/:elementId/click"},
	GetElementAttribute: {http.MethodGet, "/session/:sessionId/element/:elementId/attribute/:name"},
	CloseWindow:         {http.MethodDelete, "/session/:sessionId/window"},
	GetWindowHandles:    {http.MethodGet, "/session/:sessionId/window/handles"},
	GetWindowHandle:     {http.MethodGet, "/session/:sessionId/window"},
	SwitchToWindow:      {http.MethodPost, "/session/:sessionId/window"},
}

// Placeholders returns the placeholder names of the route path in order.
func (r Route) Placeholders() []string {
	names := make([]string, 0)
	for _, segment := range strings.Split(r.Path, "/") {
		if strings.HasPrefix(segment, ":") {
			names = append(names, segment[1:])
		}
	}
	return names
}

// Expand fills every placeholder of the route path from values.
func (r Route) Expand(values map[string]string) (string, error) {
	segments := strings.Split(r.Path, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		value, ok := values[segment[1:]]
		if !ok || value == "" {
			return "", fmt.Errorf("missing path parameter %q for %s", segment[1:], r.Path)
		}
		segments[i] = escapeSegment(value)
	}
	return strings.Join(segments, "/"), nil
}

func escapeSegment(s string) string {
	r := strings.NewReplacer("%", "%25", "/", "%2F", "?", "%3F", "#", "%23", " ", "%20")
	return r.Replace(s)
}

// Lookup returns the route of a command.
func Lookup(cmd Command) (Route, error) {
	route, ok := Routes[cmd]
	if !ok {
		return Route{}, fmt.Errorf("unknown command %s", cmd)
	}
	return route, nil
}
