// Package remotetest provides an in-memory remote.Backend for tests.
package remotetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luispater/anyWebDriver/internal/protocol"
	"github.com/luispater/anyWebDriver/internal/remote"
	"github.com/tidwall/gjson"
)

// Element is a fake DOM element.
type Element struct {
	ID         string
	Name       string
	Class      string
	Tag        string
	Text       string
	Attributes map[string]string
	Children   []*Element
	// AppearAfter hides the element from the first AppearAfter lookups of a session.
	AppearAfter int
}

// Page is a fake document served at URL.
type Page struct {
	URL      string
	Title    string
	Source   string
	Elements []*Element
}

// Backend serves fake sessions over a fixed set of pages.
type Backend struct {
	// FailNewSession makes every NewSession call fail with this error.
	FailNewSession error
	// CommandDelay is slept (honouring ctx) before every session command.
	CommandDelay time.Duration

	mu       sync.Mutex
	pages    map[string]*Page
	sessions []*Session
	handles  int
}

var _ remote.Backend = (*Backend)(nil)

func NewBackend(pages ...*Page) *Backend {
	b := &Backend{pages: make(map[string]*Page)}
	for _, p := range pages {
		b.pages[p.URL] = p
	}
	return b
}

func (b *Backend) NewSession(_ context.Context, capabilities gjson.Result) (remote.BrowserSession, error) {
	if b.FailNewSession != nil {
		return nil, b.FailNewSession
	}
	s := &Session{
		backend:      b,
		capabilities: map[string]any{"browserName": "memory"},
		ids:          make(map[*Element]string),
		elements:     make(map[string]*Element),
		retired:      make(map[string]bool),
	}
	if name := capabilities.Get("alwaysMatch.browserName").String(); name != "" {
		s.capabilities["requestedBrowserName"] = name
	}
	s.current = s.OpenWindow("about:blank")

	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()
	return s, nil
}

// Sessions returns every session created so far.
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

func (b *Backend) page(url string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pages[url]; ok {
		return p
	}
	return &Page{URL: url, Source: "<html><head></head><body></body></html>"}
}

func (b *Backend) nextHandle() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handles++
	return fmt.Sprintf("window-%d", b.handles)
}

type window struct {
	handle  string
	history []string
	pos     int
}

func (w *window) url() string {
	return w.history[w.pos]
}

// Session is one fake browser.
type Session struct {
	backend      *Backend
	capabilities map[string]any

	mu       sync.Mutex
	windows  []*window
	current  string
	lookups  int
	ids      map[*Element]string
	elements map[string]*Element
	retired  map[string]bool
	nextID   int
	clicks   []string
	quit     bool

	inFlight    int32
	maxInFlight int32
}

var _ remote.BrowserSession = (*Session)(nil)

// OpenWindow adds a window as if a page opened it and returns its handle.
func (s *Session) OpenWindow(url string) string {
	handle := s.backend.nextHandle()
	s.mu.Lock()
	s.windows = append(s.windows, &window{handle: handle, history: []string{url}})
	s.mu.Unlock()
	return handle
}

// Clicks returns the ids of clicked elements in order.
func (s *Session) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// Lookups returns how many element lookups the session served.
func (s *Session) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// MaxInFlight returns the highest number of commands that ran at once.
func (s *Session) MaxInFlight() int {
	return int(atomic.LoadInt32(&s.maxInFlight))
}

func (s *Session) Quitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit
}

// enter tracks concurrency and applies the configured delay.
func (s *Session) enter(ctx context.Context) (func(), error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		peak := atomic.LoadInt32(&s.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&s.maxInFlight, peak, n) {
			break
		}
	}
	leave := func() {
		atomic.AddInt32(&s.inFlight, -1)
	}
	if s.backend.CommandDelay > 0 {
		select {
		case <-time.After(s.backend.CommandDelay):
		case <-ctx.Done():
			leave()
			return nil, ctx.Err()
		}
	}
	return leave, nil
}

func (s *Session) Capabilities() map[string]any {
	return s.capabilities
}

// focused must be called with s.mu held.
func (s *Session) focused() (*window, error) {
	for _, w := range s.windows {
		if w.handle == s.current {
			return w, nil
		}
	}
	return nil, remote.NewError(protocol.CodeNoSuchWindow, "no window is focused")
}

// retireElements must be called with s.mu held.
func (s *Session) retireElements() {
	for id := range s.elements {
		s.retired[id] = true
	}
	s.elements = make(map[string]*Element)
	s.ids = make(map[*Element]string)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	leave, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.focused()
	if err != nil {
		return err
	}
	w.history = append(w.history[:w.pos+1], url)
	w.pos = len(w.history) - 1
	s.retireElements()
	return nil
}

func (s *Session) currentPage(ctx context.Context) (*Page, func(), error) {
	leave, err := s.enter(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	w, err := s.focused()
	s.mu.Unlock()
	if err != nil {
		leave()
		return nil, nil, err
	}
	return s.backend.page(w.url()), leave, nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	p, leave, err := s.currentPage(ctx)
	if err != nil {
		return "", err
	}
	defer leave()
	return p.URL, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	p, leave, err := s.currentPage(ctx)
	if err != nil {
		return "", err
	}
	defer leave()
	return p.Title, nil
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	p, leave, err := s.currentPage(ctx)
	if err != nil {
		return "", err
	}
	defer leave()
	return p.Source, nil
}

func (s *Session) move(ctx context.Context, delta int) error {
	leave, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.focused()
	if err != nil {
		return err
	}
	pos := w.pos + delta
	if pos >= 0 && pos < len(w.history) {
		w.pos = pos
	}
	s.retireElements()
	return nil
}

func (s *Session) Back(ctx context.Context) error {
	return s.move(ctx, -1)
}

func (s *Session) Forward(ctx context.Context) error {
	return s.move(ctx, 1)
}

func (s *Session) Refresh(ctx context.Context) error {
	return s.move(ctx, 0)
}

func (s *Session) FindElements(ctx context.Context, using, value, root string) ([]string, error) {
	p, leave, err := s.currentPage(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	candidates := p.Elements
	if root != "" {
		el, errElement := s.element(root)
		if errElement != nil {
			return nil, errElement
		}
		candidates = el.Children
	}

	matcher, err := newMatcher(using, value)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	walk(candidates, func(el *Element) {
		if el.AppearAfter >= s.lookups || !matcher(el) {
			return
		}
		id, ok := s.ids[el]
		if !ok {
			s.nextID++
			id = fmt.Sprintf("element-%d", s.nextID)
			s.ids[el] = id
			s.elements[id] = el
		}
		ids = append(ids, id)
	})
	return ids, nil
}

// walk visits elements depth-first in document order.
func walk(elements []*Element, fn func(*Element)) {
	for _, el := range elements {
		fn(el)
		walk(el.Children, fn)
	}
}

var cssStringUnescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`)

func newMatcher(using, value string) (func(*Element) bool, error) {
	switch using {
	case "css selector":
		switch {
		case strings.HasPrefix(value, "#"):
			return func(el *Element) bool { return el.ID == value[1:] }, nil
		case strings.HasPrefix(value, "."):
			return func(el *Element) bool {
				for _, class := range strings.Fields(el.Class) {
					if class == value[1:] {
						return true
					}
				}
				return false
			}, nil
		case strings.HasPrefix(value, `*[name="`) && strings.HasSuffix(value, `"]`):
			name := cssStringUnescaper.Replace(strings.TrimSuffix(strings.TrimPrefix(value, `*[name="`), `"]`))
			return func(el *Element) bool { return el.Name == name }, nil
		}
		return func(el *Element) bool { return el.Tag == value }, nil
	case "tag name":
		return func(el *Element) bool { return el.Tag == value }, nil
	case "link text":
		return func(el *Element) bool { return el.Tag == "a" && strings.TrimSpace(el.Text) == strings.TrimSpace(value) }, nil
	case "partial link text":
		return func(el *Element) bool { return el.Tag == "a" && strings.Contains(el.Text, value) }, nil
	}
	return nil, remote.NewError(protocol.CodeInvalidSelector, "memory backend cannot evaluate %s", using)
}

// element must be called with s.mu held.
func (s *Session) element(id string) (*Element, error) {
	if el, ok := s.elements[id]; ok {
		return el, nil
	}
	if s.retired[id] {
		return nil, remote.NewError(protocol.CodeStaleElement, "element %s belongs to a previous document", id)
	}
	return nil, remote.NewError(protocol.CodeNoSuchElement, "element %s is unknown", id)
}

func (s *Session) ElementText(ctx context.Context, id string) (string, error) {
	leave, err := s.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element(id)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (s *Session) ElementClick(ctx context.Context, id string) error {
	leave, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err = s.element(id); err != nil {
		return err
	}
	s.clicks = append(s.clicks, id)
	return nil
}

func (s *Session) ElementAttribute(ctx context.Context, id, name string) (string, bool, error) {
	leave, err := s.enter(ctx)
	if err != nil {
		return "", false, err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element(id)
	if err != nil {
		return "", false, err
	}
	switch name {
	case "id":
		return el.ID, el.ID != "", nil
	case "name":
		return el.Name, el.Name != "", nil
	case "class":
		return el.Class, el.Class != "", nil
	}
	value, ok := el.Attributes[name]
	return value, ok, nil
}

func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	leave, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]string, 0, len(s.windows))
	for _, w := range s.windows {
		handles = append(handles, w.handle)
	}
	return handles, nil
}

func (s *Session) WindowHandle(ctx context.Context) (string, error) {
	leave, err := s.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.focused()
	if err != nil {
		return "", err
	}
	return w.handle, nil
}

func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	leave, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.handle == handle {
			if s.current != handle {
				s.retireElements()
			}
			s.current = handle
			return nil
		}
	}
	return remote.NewError(protocol.CodeNoSuchWindow, "window %s is not open", handle)
}

func (s *Session) CloseWindow(ctx context.Context) ([]string, error) {
	leave, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := make([]*window, 0, len(s.windows))
	found := false
	for _, w := range s.windows {
		if w.handle == s.current {
			found = true
			continue
		}
		remaining = append(remaining, w)
	}
	if !found {
		return nil, remote.NewError(protocol.CodeNoSuchWindow, "no window is focused")
	}
	s.windows = remaining
	s.current = ""
	s.retireElements()

	handles := make([]string, 0, len(remaining))
	for _, w := range remaining {
		handles = append(handles, w.handle)
	}
	return handles, nil
}

func (s *Session) Quit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quit = true
	s.windows = nil
	s.current = ""
	return nil
}
