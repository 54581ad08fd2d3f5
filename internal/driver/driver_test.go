package driver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luispater/anyWebDriver/internal/remote"
	"github.com/luispater/anyWebDriver/internal/remote/remotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by the requested duration every time After is called.
type fakeClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	block bool
}

func newFakeClock() *fakeClock {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeClock{start: start, now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if c.block {
		return ch
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	ch <- c.now
	c.mu.Unlock()
	return ch
}

func (c *fakeClock) elapsed() time.Duration {
	return c.Now().Sub(c.start)
}

var loginPage = &remotetest.Page{
	URL:    "https://example.test/login",
	Title:  "  Sign in \n",
	Source: "<html><body>login</body></html>",
	Elements: []*remotetest.Element{
		{Tag: "form", ID: "login", Children: []*remotetest.Element{
			{Tag: "input", Name: "user"},
			{Tag: "input", Name: `path\`},
			{Tag: "button", Class: "primary", Text: "Go", Attributes: map[string]string{"type": "submit"}},
		}},
		{Tag: "div", ID: "toast", Text: "Saved", AppearAfter: 2},
		{Tag: "a", Text: "Help", Attributes: map[string]string{"href": "/help"}},
	},
}

type endpoint struct {
	backend *remotetest.Backend
	server  *remote.Server
	url     string
}

func newEndpoint(t *testing.T) *endpoint {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := remotetest.NewBackend(loginPage, &remotetest.Page{URL: "https://example.test/home", Title: "Home"})
	server := remote.NewServer(&remote.ServerConfig{Debug: true, Backend: backend})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &endpoint{backend: backend, server: server, url: ts.URL}
}

func (e *endpoint) driver(t *testing.T, wait WaitConfig, clock Clock) *Driver {
	t.Helper()
	d, err := New(context.Background(), Config{
		DispatcherConfig: DispatcherConfig{RemoteURL: e.url, CallTimeout: 5 * time.Second},
		Wait:             wait,
		Clock:            clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Quit(context.Background())
	})
	return d
}

func (e *endpoint) lastSession() *remotetest.Session {
	sessions := e.backend.Sessions()
	return sessions[len(sessions)-1]
}

func TestNavigation(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{}, nil)
	ctx := context.Background()

	require.NoError(t, d.Get(ctx, loginPage.URL))
	title, err := d.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sign in", title)

	source, err := d.PageSource(ctx)
	require.NoError(t, err)
	assert.Contains(t, source, "login")

	require.NoError(t, d.Navigate().To(ctx, "https://example.test/home"))
	require.NoError(t, d.Navigate().Back(ctx))
	currentURL, err := d.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, loginPage.URL, currentURL)

	require.NoError(t, d.Navigate().Forward(ctx))
	require.NoError(t, d.Navigate().Refresh(ctx))
	title, err = d.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", title)

	assert.Equal(t, "memory", d.Session().Capabilities().Get("browserName").String())
}

func TestFindElementWaitsForLateElement(t *testing.T) {
	e := newEndpoint(t)
	clock := newFakeClock()
	d := e.driver(t, WaitConfig{Timeout: 2 * time.Second, PollInterval: 500 * time.Millisecond}, clock)
	ctx := context.Background()
	require.NoError(t, d.Get(ctx, loginPage.URL))

	toast, err := d.FindElement(ctx, By(ByID, "toast"))
	require.NoError(t, err)
	text, err := toast.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Saved", text)
	assert.Equal(t, 3, e.lastSession().Lookups())
	assert.Equal(t, time.Second, clock.elapsed())
}

func TestFindElementTimesOut(t *testing.T) {
	tests := []struct {
		name    string
		wait    WaitConfig
		lookups int
	}{
		{"even polls", WaitConfig{Timeout: 2 * time.Second, PollInterval: 500 * time.Millisecond}, 5},
		{"uneven polls", WaitConfig{Timeout: time.Second, PollInterval: 300 * time.Millisecond}, 5},
		{"default poll", WaitConfig{Timeout: time.Second}, 3},
		{"no wait", WaitConfig{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEndpoint(t)
			clock := newFakeClock()
			d := e.driver(t, tt.wait, clock)
			ctx := context.Background()
			require.NoError(t, d.Get(ctx, loginPage.URL))

			_, err := d.FindElement(ctx, By(ByCSSSelector, "#missing"))
			assert.ErrorIs(t, err, ErrNoSuchElement)
			assert.GreaterOrEqual(t, clock.elapsed(), tt.wait.Timeout)
			assert.LessOrEqual(t, clock.elapsed(), tt.wait.Timeout+tt.wait.interval())
			assert.Equal(t, tt.lookups, e.lastSession().Lookups())
		})
	}
}

func TestFindElementHonoursCancellation(t *testing.T) {
	e := newEndpoint(t)
	clock := newFakeClock()
	clock.block = true
	d := e.driver(t, WaitConfig{Timeout: time.Hour, PollInterval: time.Minute}, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.FindElement(ctx, By(ByTagName, "table"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ErrorKind(""), KindOf(err))
}

func TestFindElementsPollsOnce(t *testing.T) {
	e := newEndpoint(t)
	clock := newFakeClock()
	d := e.driver(t, WaitConfig{Timeout: 2 * time.Second}, clock)
	ctx := context.Background()
	require.NoError(t, d.Get(ctx, loginPage.URL))

	elements, err := d.FindElements(ctx, By(ByID, "toast"))
	require.NoError(t, err)
	assert.NotNil(t, elements)
	assert.Empty(t, elements)
	assert.Equal(t, 1, e.lastSession().Lookups())
	assert.Zero(t, clock.elapsed())

	links, err := d.FindElements(ctx, By(ByPartialLinkText, "Hel"))
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestElementScopedLookups(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{}, nil)
	ctx := context.Background()
	require.NoError(t, d.Get(ctx, loginPage.URL))

	form, err := d.FindElement(ctx, By(ByID, "login"))
	require.NoError(t, err)
	assert.Equal(t, d.Session(), form.Session())

	user, err := form.FindElement(ctx, By(ByName, "user"))
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID())

	escaped, err := form.FindElement(ctx, By(ByName, `path\`))
	require.NoError(t, err)
	assert.NotEqual(t, user.ID(), escaped.ID())

	buttons, err := form.FindElements(ctx, By(ByClassName, "primary"))
	require.NoError(t, err)
	require.Len(t, buttons, 1)

	kind, ok, err := buttons[0].Attribute(ctx, "type")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "submit", kind)

	_, ok, err = buttons[0].Attribute(ctx, "disabled")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, buttons[0].Click(ctx))
	assert.Equal(t, []string{buttons[0].ID()}, e.lastSession().Clicks())

	_, err = form.FindElement(ctx, By(ByTagName, "a"))
	assert.ErrorIs(t, err, ErrNoSuchElement)
}

func TestStaleElementAfterNavigation(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{}, nil)
	ctx := context.Background()
	require.NoError(t, d.Get(ctx, loginPage.URL))

	link, err := d.FindElement(ctx, By(ByLinkText, "Help"))
	require.NoError(t, err)
	require.NoError(t, d.Navigate().Refresh(ctx))

	err = link.Click(ctx)
	assert.ErrorIs(t, err, ErrStaleElement)
	assert.True(t, d.Session().IsActive())
}

func TestInvalidLocatorReachesRemote(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{}, nil)

	_, err := d.FindElement(context.Background(), By(ByXPath, "//form"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = d.FindElement(context.Background(), Locator{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWindows(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{}, nil)
	ctx := context.Background()
	popup := WindowHandle(e.lastSession().OpenWindow("https://example.test/home"))

	handles, err := d.WindowHandles(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	main := handles[0]

	current, err := d.WindowHandle(ctx)
	require.NoError(t, err)
	assert.Equal(t, main, current)

	err = d.SwitchTo(ctx, "window-404")
	assert.ErrorIs(t, err, ErrNoSuchWindow)
	current, err = d.WindowHandle(ctx)
	require.NoError(t, err)
	assert.Equal(t, main, current, "failed switch keeps focus")

	require.NoError(t, d.SwitchTo(ctx, popup))
	current, err = d.WindowHandle(ctx)
	require.NoError(t, err)
	assert.Equal(t, popup, current)
	title, err := d.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", title)

	require.NoError(t, d.Close(ctx))
	assert.True(t, d.Session().IsActive())
	_, err = d.WindowHandle(ctx)
	assert.ErrorIs(t, err, ErrNoSuchWindow)

	require.NoError(t, d.SwitchTo(ctx, main))
	require.NoError(t, d.Close(ctx))
	assert.False(t, d.Session().IsActive(), "closing the last window ends the session")
	assert.Equal(t, 0, e.server.SessionCount())

	_, err = d.Title(ctx)
	assert.ErrorIs(t, err, ErrInvalidSessionState)
	assert.NoError(t, d.Quit(ctx))
}

func TestQuitIsIdempotent(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{}, nil)
	ctx := context.Background()

	require.NoError(t, d.Quit(ctx))
	require.NoError(t, d.Quit(ctx))
	assert.Equal(t, StateClosed, d.Session().State())
	assert.True(t, e.lastSession().Quitted())

	err := d.Get(ctx, loginPage.URL)
	assert.ErrorIs(t, err, ErrInvalidSessionState)
	_, err = d.FindElements(ctx, By(ByTagName, "a"))
	assert.ErrorIs(t, err, ErrInvalidSessionState)
}

func TestRemoteEndsSession(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{}, nil)
	ctx := context.Background()

	e.server.QuitAll(ctx)
	_, err := d.Title(ctx)
	assert.ErrorIs(t, err, ErrInvalidSessionState)
	assert.False(t, d.Session().IsActive())
	assert.NoError(t, d.Quit(ctx))
}

func TestSessionStartFailure(t *testing.T) {
	e := newEndpoint(t)
	e.backend.FailNewSession = errors.New("no browser installed")

	_, err := New(context.Background(), Config{DispatcherConfig: DispatcherConfig{RemoteURL: e.url}})
	assert.ErrorIs(t, err, ErrSessionStartFailure)
	assert.Contains(t, err.Error(), "no browser installed")

	tests := []struct {
		name   string
		status int
		body   string
		cause  error
	}{
		{"not a webdriver endpoint", http.StatusOK, "<html>hello</html>", nil},
		{"rejected capabilities", http.StatusBadRequest, `{"value":{"error":"invalid argument","message":"bad browserName"}}`, ErrInvalidArgument},
		{"no session id", http.StatusOK, `{"value":{"capabilities":{}}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := New(context.Background(), Config{DispatcherConfig: DispatcherConfig{RemoteURL: ts.URL}})
			assert.ErrorIs(t, err, ErrSessionStartFailure)
			assert.Equal(t, KindSessionStartFailure, KindOf(err))
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestSessionStartCallerDeadline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(ctx, Config{DispatcherConfig: DispatcherConfig{RemoteURL: ts.URL, CallTimeout: time.Minute}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ErrorKind(""), KindOf(err))
}

func TestCloseAll(t *testing.T) {
	e := newEndpoint(t)
	dispatcher, err := NewDispatcher(DispatcherConfig{RemoteURL: e.url})
	require.NoError(t, err)
	manager := NewSessionManager(dispatcher)

	ctx := context.Background()
	first, err := manager.Open(ctx, nil)
	require.NoError(t, err)
	second, err := manager.Open(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, manager.Sessions(), 2)

	require.NoError(t, manager.CloseAll(ctx))
	assert.False(t, manager.IsActive(first))
	assert.False(t, manager.IsActive(second))
	assert.Empty(t, manager.Sessions())
	for _, s := range e.backend.Sessions() {
		assert.True(t, s.Quitted())
	}

	require.NoError(t, manager.CloseAll(ctx), "nothing left to close")
}

func TestSessionsAreIsolated(t *testing.T) {
	e := newEndpoint(t)
	e.backend.CommandDelay = 5 * time.Millisecond
	first := e.driver(t, WaitConfig{}, nil)
	second := e.driver(t, WaitConfig{}, nil)
	require.NotEqual(t, first.Session().ID(), second.Session().ID())

	ctx := context.Background()
	require.NoError(t, first.Get(ctx, loginPage.URL))
	require.NoError(t, second.Get(ctx, "https://example.test/home"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, d := range []*Driver{first, second} {
			wg.Add(1)
			go func(d *Driver) {
				defer wg.Done()
				_, err := d.Title(ctx)
				assert.NoError(t, err)
			}(d)
		}
	}
	wg.Wait()

	firstTitle, err := first.Title(ctx)
	require.NoError(t, err)
	secondTitle, err := second.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sign in", firstTitle)
	assert.Equal(t, "Home", secondTitle)

	for _, s := range e.backend.Sessions() {
		assert.Equal(t, 1, s.MaxInFlight())
	}

	require.NoError(t, first.Quit(ctx))
	_, err = second.Title(ctx)
	assert.NoError(t, err, "closing one session leaves the other usable")
}

func TestImplicitWaitSettings(t *testing.T) {
	e := newEndpoint(t)
	d := e.driver(t, WaitConfig{Timeout: 2 * time.Second, PollInterval: time.Second}, nil)

	timeouts := d.Manage().Timeouts()
	require.NoError(t, timeouts.ImplicitlyWait(500*time.Millisecond))
	assert.Equal(t, WaitConfig{Timeout: 500 * time.Millisecond, PollInterval: 500 * time.Millisecond}, timeouts.Wait())

	require.NoError(t, timeouts.PollEvery(100*time.Millisecond))
	assert.ErrorIs(t, timeouts.PollEvery(time.Second), ErrInvalidArgument)
	assert.ErrorIs(t, timeouts.ImplicitlyWait(-time.Second), ErrInvalidArgument)
	assert.Equal(t, 100*time.Millisecond, timeouts.Wait().PollInterval)

	scoped, err := d.WithWait(WaitConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, d.Session(), scoped.Session())
	assert.Equal(t, 5*time.Second, scoped.Manage().Timeouts().Wait().Timeout)
	assert.Equal(t, 500*time.Millisecond, d.Manage().Timeouts().Wait().Timeout, "scoped waits leave the driver policy alone")

	_, err = d.WithWait(WaitConfig{Timeout: time.Second, PollInterval: 2 * time.Second})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
