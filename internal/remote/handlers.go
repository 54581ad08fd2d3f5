package remote

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/luispater/anyWebDriver/internal/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// request is what a session command sees of the HTTP call.
type request struct {
	params gin.Params
	body   gjson.Result
}

type commandFunc func(ctx context.Context, b BrowserSession, r request) (any, error)

// Handlers contains the handlers for endpoint commands
type Handlers struct {
	server   *Server
	commands map[protocol.Command]commandFunc
}

// NewHandlers creates the handler set of a server
func NewHandlers(server *Server) *Handlers {
	h := &Handlers{server: server}
	h.commands = map[protocol.Command]commandFunc{
		protocol.NavigateTo:          navigateTo,
		protocol.GetCurrentURL:       currentURL,
		protocol.GetTitle:            title,
		protocol.GetPageSource:       pageSource,
		protocol.Back:                back,
		protocol.Forward:             forward,
		protocol.Refresh:             refresh,
		protocol.FindElement:         findElement,
		protocol.FindElements:        findElements,
		protocol.FindElementFrom:     findElement,
		protocol.FindElementsFrom:    findElements,
		protocol.GetElementText:      elementText,
		protocol.ElementClick:        elementClick,
		protocol.GetElementAttribute: elementAttribute,
		protocol.CloseWindow:         closeWindow,
		protocol.GetWindowHandles:    windowHandles,
		protocol.GetWindowHandle:     windowHandle,
		protocol.SwitchToWindow:      switchToWindow,
	}
	return h
}

// For returns the gin handler of a command.
func (h *Handlers) For(cmd protocol.Command) (gin.HandlerFunc, bool) {
	switch cmd {
	case protocol.Status:
		return h.Status, true
	case protocol.NewSession:
		return h.NewSession, true
	case protocol.DeleteSession:
		return h.DeleteSession, true
	}
	fn, ok := h.commands[cmd]
	if !ok {
		return nil, false
	}
	return h.sessionCommand(cmd, fn), true
}

// Status handles GET /status
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"value": gin.H{
		"ready":    true,
		"message":  "anyWebDriver endpoint ready",
		"sessions": h.server.SessionCount(),
	}})
}

// NewSession handles POST /session
func (h *Handlers) NewSession(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		writeError(c, err)
		return
	}

	browser, err := h.server.backend.NewSession(c.Request.Context(), body.Get("capabilities"))
	if err != nil {
		log.Errorf("Failed to start browser session: %v", err)
		code, message := errorCode(err)
		if code == protocol.CodeUnknownError {
			code = protocol.CodeSessionNotCreated
		}
		writeError(c, NewError(code, "%s", message))
		return
	}

	id := uuid.New().String()
	queue := NewCommandQueue(id)
	if err = queue.Start(); err != nil {
		_ = browser.Quit(c.Request.Context())
		writeError(c, NewError(protocol.CodeSessionNotCreated, "%v", err))
		return
	}
	h.server.addSession(&sessionEntry{id: id, browser: browser, queue: queue})
	log.Infof("Session %s created", id)

	c.JSON(http.StatusOK, gin.H{"value": gin.H{
		"sessionId":    id,
		"capabilities": browser.Capabilities(),
	}})
}

// DeleteSession handles DELETE /session/:sessionId
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.server.removeSession(c.Request.Context(), c.Param(protocol.ParamSessionID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": nil})
}

// sessionCommand runs fn on the session's queue so commands never overlap.
func (h *Handlers) sessionCommand(cmd protocol.Command, fn commandFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(protocol.ParamSessionID)
		entry, ok := h.server.lookupSession(id)
		if !ok {
			writeError(c, NewError(protocol.CodeInvalidSessionID, "session %s does not exist", id))
			return
		}

		body, err := readBody(c)
		if err != nil {
			writeError(c, err)
			return
		}
		r := request{params: append(gin.Params(nil), c.Params...), body: body}

		value, err := entry.queue.Do(c.Request.Context(), string(cmd), func(ctx context.Context) (any, error) {
			return fn(ctx, entry.browser, r)
		})
		if err != nil {
			log.Debugf("Session %s command %s failed: %v", id, cmd, err)
			writeError(c, err)
			return
		}

		if remaining, isHandles := value.([]string); isHandles && cmd == protocol.CloseWindow && len(remaining) == 0 {
			if errRemove := h.server.removeSession(c.Request.Context(), id); errRemove != nil {
				log.Debugf("Error ending session %s after its last window closed: %v", id, errRemove)
			}
		}

		c.JSON(http.StatusOK, gin.H{"value": value})
	}
}

func readBody(c *gin.Context) (gjson.Result, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return gjson.Result{}, NewError(protocol.CodeInvalidArgument, "read body: %v", err)
	}
	if len(raw) == 0 {
		return gjson.Parse("{}"), nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, NewError(protocol.CodeInvalidArgument, "body is not valid JSON")
	}
	return gjson.ParseBytes(raw), nil
}

func writeError(c *gin.Context, err error) {
	code, message := errorCode(err)
	c.JSON(protocol.HTTPStatus(code), gin.H{"value": gin.H{
		"error":      code,
		"message":    message,
		"stacktrace": "",
	}})
}

func requireString(body gjson.Result, field string) (string, error) {
	value := body.Get(field)
	if value.Type != gjson.String || value.String() == "" {
		return "", NewError(protocol.CodeInvalidArgument, "missing string field %q", field)
	}
	return value.String(), nil
}

func navigateTo(ctx context.Context, b BrowserSession, r request) (any, error) {
	url, err := requireString(r.body, "url")
	if err != nil {
		return nil, err
	}
	return nil, b.Navigate(ctx, url)
}

func currentURL(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return b.CurrentURL(ctx)
}

func title(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return b.Title(ctx)
}

func pageSource(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return b.PageSource(ctx)
}

func back(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return nil, b.Back(ctx)
}

func forward(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return nil, b.Forward(ctx)
}

func refresh(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return nil, b.Refresh(ctx)
}

// lookup never waits; implicit waiting is the client's job.
func lookup(ctx context.Context, b BrowserSession, r request) ([]string, error) {
	using, err := requireString(r.body, "using")
	if err != nil {
		return nil, err
	}
	if !strategies[using] {
		return nil, NewError(protocol.CodeInvalidArgument, "unsupported locator strategy %q", using)
	}
	value, err := requireString(r.body, "value")
	if err != nil {
		return nil, err
	}
	return b.FindElements(ctx, using, value, r.params.ByName(protocol.ParamElementID))
}

func findElement(ctx context.Context, b BrowserSession, r request) (any, error) {
	ids, err := lookup(ctx, b, r)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, NewError(protocol.CodeNoSuchElement, "no element matches %s %q", r.body.Get("using").String(), r.body.Get("value").String())
	}
	return gin.H{protocol.ElementKey: ids[0]}, nil
}

func findElements(ctx context.Context, b BrowserSession, r request) (any, error) {
	ids, err := lookup(ctx, b, r)
	if err != nil {
		return nil, err
	}
	elements := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		elements = append(elements, gin.H{protocol.ElementKey: id})
	}
	return elements, nil
}

func elementText(ctx context.Context, b BrowserSession, r request) (any, error) {
	return b.ElementText(ctx, r.params.ByName(protocol.ParamElementID))
}

func elementClick(ctx context.Context, b BrowserSession, r request) (any, error) {
	return nil, b.ElementClick(ctx, r.params.ByName(protocol.ParamElementID))
}

func elementAttribute(ctx context.Context, b BrowserSession, r request) (any, error) {
	value, ok, err := b.ElementAttribute(ctx, r.params.ByName(protocol.ParamElementID), r.params.ByName(protocol.ParamName))
	if err != nil || !ok {
		return nil, err
	}
	return value, nil
}

func closeWindow(ctx context.Context, b BrowserSession, _ request) (any, error) {
	remaining, err := b.CloseWindow(ctx)
	if remaining == nil && err == nil {
		remaining = []string{}
	}
	return remaining, err
}

func windowHandles(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return b.WindowHandles(ctx)
}

func windowHandle(ctx context.Context, b BrowserSession, _ request) (any, error) {
	return b.WindowHandle(ctx)
}

func switchToWindow(ctx context.Context, b BrowserSession, r request) (any, error) {
	handle, err := requireString(r.body, "handle")
	if err != nil {
		return nil, err
	}
	return nil, b.SwitchToWindow(ctx, handle)
}
