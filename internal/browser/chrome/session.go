package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/luispater/anyWebDriver/internal/protocol"
	"github.com/luispater/anyWebDriver/internal/remote"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// tab is a chromedp context attached to one page target.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Session is one Chrome process serving one endpoint session. Windows are
// page targets; element ids map to DOM nodes of the current document and are
// retired on navigation.
type Session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	capabilities  map[string]any

	tabs    map[target.ID]*tab
	current target.ID

	elements  map[string]*cdp.Node
	byBackend map[cdp.BackendNodeID]string
	retired   map[string]bool
}

var _ remote.BrowserSession = (*Session)(nil)

func newSession(browserCtx context.Context, browserCancel context.CancelFunc, capabilities map[string]any) *Session {
	s := &Session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		capabilities:  capabilities,
		tabs:          make(map[target.ID]*tab),
		retired:       make(map[string]bool),
	}
	s.resetElements()

	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		s.current = c.Target.TargetID
		// The first tab shares the browser context; cancelling it would kill the browser.
		s.tabs[s.current] = &tab{ctx: browserCtx}
	}
	return s
}

func (s *Session) Capabilities() map[string]any {
	return s.capabilities
}

// run executes actions on the current tab; ctx cancels the actions, not the tab.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	t, ok := s.tabs[s.current]
	if !ok {
		return remote.NewError(protocol.CodeNoSuchWindow, "no window is focused")
	}
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) resetElements() {
	for id := range s.elements {
		s.retired[id] = true
	}
	s.elements = make(map[string]*cdp.Node)
	s.byBackend = make(map[cdp.BackendNodeID]string)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	defer s.resetElements()
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var currentURL string
	err := s.run(ctx, chromedp.Location(&currentURL))
	return currentURL, err
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	var source string
	err := s.run(ctx, chromedp.OuterHTML("html", &source, chromedp.ByQuery))
	return source, err
}

func (s *Session) Back(ctx context.Context) error {
	defer s.resetElements()
	return s.run(ctx, chromedp.NavigateBack())
}

func (s *Session) Forward(ctx context.Context) error {
	defer s.resetElements()
	return s.run(ctx, chromedp.NavigateForward())
}

func (s *Session) Refresh(ctx context.Context) error {
	defer s.resetElements()
	return s.run(ctx, chromedp.Reload())
}

// FindElements queries without waiting. Lookups scoped to an element support
// CSS selectors and tag names only.
func (s *Session) FindElements(ctx context.Context, using, value, root string) ([]string, error) {
	var rootNode *cdp.Node
	if root != "" {
		node, err := s.node(root)
		if err != nil {
			return nil, err
		}
		rootNode = node
	}

	selector, byXPath := translateSelector(using, value)
	var nodes []*cdp.Node
	var err error
	if byXPath {
		if rootNode != nil {
			return nil, remote.NewError(protocol.CodeInvalidArgument, "%s lookups from an element are not supported", using)
		}
		err = s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	} else {
		opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
		if rootNode != nil {
			opts = append(opts, chromedp.FromNode(rootNode))
		}
		err = s.run(ctx, chromedp.Nodes(selector, &nodes, opts...))
	}
	if err != nil {
		return nil, remote.NewError(protocol.CodeInvalidSelector, "%s %q: %v", using, value, err)
	}

	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, s.remember(node))
	}
	log.Debugf("Lookup %s %q matched %d node(s)", using, value, len(ids))
	return ids, nil
}

// remember returns the id of node, reusing the id of a node seen before.
func (s *Session) remember(node *cdp.Node) string {
	if id, ok := s.byBackend[node.BackendNodeID]; ok {
		s.elements[id] = node
		return id
	}
	id := uuid.New().String()
	s.elements[id] = node
	s.byBackend[node.BackendNodeID] = id
	return id
}

func (s *Session) node(id string) (*cdp.Node, error) {
	if node, ok := s.elements[id]; ok {
		return node, nil
	}
	if s.retired[id] {
		return nil, remote.NewError(protocol.CodeStaleElement, "element %s belongs to a previous document", id)
	}
	return nil, remote.NewError(protocol.CodeNoSuchElement, "element %s is unknown", id)
}

func (s *Session) ElementText(ctx context.Context, id string) (string, error) {
	node, err := s.node(id)
	if err != nil {
		return "", err
	}
	var text string
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		object, errResolve := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
		if errResolve != nil {
			return errResolve
		}
		result, exception, errCall := runtime.CallFunctionOn(innerTextJS).
			WithObjectID(object.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if errCall != nil {
			return errCall
		}
		if exception != nil {
			return exception
		}
		text = gjson.ParseBytes(result.Value).String()
		return nil
	}))
	if err != nil {
		return "", s.nodeError(id, err)
	}
	return strings.TrimSpace(text), nil
}

const innerTextJS = `function() { return this.innerText || this.textContent || ""; }`

// ElementClick clicks the centre of the element. An element without a layout
// box fails at once instead of waiting to become visible. Element ids are
// retired when the click leaves the document.
func (s *Session) ElementClick(ctx context.Context, id string) error {
	node, err := s.node(id)
	if err != nil {
		return err
	}
	var before, after string
	err = s.run(ctx,
		chromedp.Location(&before),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, errBox := dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx); errBox != nil {
				if isMissingNode(errBox) {
					return errBox
				}
				return remote.NewError(protocol.CodeElementNotInteractable, "element %s is not displayed", id)
			}
			return nil
		}),
		chromedp.MouseClickNode(node),
		chromedp.Location(&after),
	)
	if errors.Is(err, chromedp.ErrInvalidDimensions) {
		return remote.NewError(protocol.CodeElementNotInteractable, "element %s has no clickable area", id)
	}
	if err != nil {
		return s.nodeError(id, err)
	}
	if before != after {
		log.Debugf("Click on %s navigated to %s", id, after)
		s.resetElements()
	}
	return nil
}

func (s *Session) ElementAttribute(ctx context.Context, id, name string) (string, bool, error) {
	node, err := s.node(id)
	if err != nil {
		return "", false, err
	}
	var attributes []string
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var errAttributes error
		attributes, errAttributes = dom.GetAttributes(node.NodeID).Do(ctx)
		return errAttributes
	}))
	if err != nil {
		return "", false, s.nodeError(id, err)
	}
	// attributes alternate name, value
	for i := 0; i+1 < len(attributes); i += 2 {
		if attributes[i] == name {
			return attributes[i+1], true, nil
		}
	}
	return "", false, nil
}

// nodeError reports a DOM failure on a remembered element. A node the
// browser no longer knows belongs to a replaced document.
func (s *Session) nodeError(id string, err error) error {
	var remoteErr *remote.Error
	if errors.As(err, &remoteErr) || !isMissingNode(err) {
		return err
	}
	if node, ok := s.elements[id]; ok {
		delete(s.byBackend, node.BackendNodeID)
		delete(s.elements, id)
	}
	s.retired[id] = true
	return remote.NewError(protocol.CodeStaleElement, "element %s is no longer attached: %v", id, err)
}

func isMissingNode(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find node") || strings.Contains(msg, "no node with given id")
}

// pages lists the page targets of the browser.
func (s *Session) pages(ctx context.Context) ([]*target.Info, error) {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, err
	}
	pages := make([]*target.Info, 0, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			pages = append(pages, info)
		}
	}
	return pages, nil
}

func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	pages, err := s.pages(ctx)
	if err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(pages))
	for _, info := range pages {
		handles = append(handles, string(info.TargetID))
	}
	return handles, nil
}

func (s *Session) WindowHandle(_ context.Context) (string, error) {
	if _, ok := s.tabs[s.current]; !ok {
		return "", remote.NewError(protocol.CodeNoSuchWindow, "no window is focused")
	}
	return string(s.current), nil
}

func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	id := target.ID(handle)
	pages, err := s.pages(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, info := range pages {
		if info.TargetID == id {
			found = true
			break
		}
	}
	if !found {
		return remote.NewError(protocol.CodeNoSuchWindow, "window %s is not open", handle)
	}

	if _, ok := s.tabs[id]; !ok {
		tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(id))
		if err = chromedp.Run(tabCtx); err != nil {
			tabCancel()
			return fmt.Errorf("attach to window %s: %w", handle, err)
		}
		s.tabs[id] = &tab{ctx: tabCtx, cancel: tabCancel}
	}

	if s.current != id {
		s.resetElements()
	}
	s.current = id
	log.Debugf("Switched to window %s", handle)
	return nil
}

func (s *Session) CloseWindow(ctx context.Context) ([]string, error) {
	closing := s.current
	if err := s.run(ctx, page.Close()); err != nil {
		return nil, err
	}
	if t, ok := s.tabs[closing]; ok && t.cancel != nil {
		t.cancel()
	}
	delete(s.tabs, closing)
	s.current = ""
	s.resetElements()

	handles, err := s.WindowHandles(ctx)
	if err != nil {
		return nil, err
	}
	remaining := make([]string, 0, len(handles))
	for _, handle := range handles {
		// The target can linger in the list while it is being destroyed.
		if handle != string(closing) {
			remaining = append(remaining, handle)
		}
	}
	return remaining, nil
}

func (s *Session) Quit(_ context.Context) error {
	for id, t := range s.tabs {
		if t.cancel != nil {
			t.cancel()
		}
		delete(s.tabs, id)
	}
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	log.Debug("Chromedp browser closed")
	return nil
}

// translateSelector maps a W3C strategy onto a CSS selector or an XPath expression.
func translateSelector(using, value string) (string, bool) {
	switch using {
	case "xpath":
		return value, true
	case "link text":
		return fmt.Sprintf("//a[normalize-space(string(.))=%s]", xpathLiteral(strings.TrimSpace(value))), true
	case "partial link text":
		return fmt.Sprintf("//a[contains(string(.), %s)]", xpathLiteral(value)), true
	}
	return value, false
}

// xpathLiteral quotes s for use in an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
