// Package driver is a client for remote browser automation endpoints that
// speak the W3C WebDriver wire protocol.
//
// A Driver owns one remote session. Element lookups wait implicitly according
// to a WaitPolicy: FindElement polls until a match appears or the timeout
// elapses, FindElements polls exactly once and never fails on absence.
//
//	d, err := driver.New(ctx, driver.Config{
//		DispatcherConfig: driver.DispatcherConfig{RemoteURL: "http://127.0.0.1:4444"},
//		Wait:             driver.WaitConfig{Timeout: 2 * time.Second, PollInterval: 500 * time.Millisecond},
//	})
//	if err != nil {
//		return err
//	}
//	defer d.Quit(ctx)
//	err = d.Get(ctx, "https://example.com")
package driver

import (
	"context"
	"strings"
	"time"

	"github.com/luispater/anyWebDriver/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// Navigator loads pages and reads page properties.
type Navigator interface {
	Get(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
}

// SearchContext locates elements.
type SearchContext interface {
	FindElement(ctx context.Context, loc Locator) (*Element, error)
	FindElements(ctx context.Context, loc Locator) ([]*Element, error)
}

// WindowManager lists, focuses and closes windows.
type WindowManager interface {
	WindowHandles(ctx context.Context) ([]WindowHandle, error)
	WindowHandle(ctx context.Context) (WindowHandle, error)
	SwitchTo(ctx context.Context, handle WindowHandle) error
	Close(ctx context.Context) error
}

// Navigation moves through the browser history.
type Navigation interface {
	To(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// Timeouts adjusts implicit waiting.
type Timeouts interface {
	ImplicitlyWait(timeout time.Duration) error
	PollEvery(interval time.Duration) error
	Wait() WaitConfig
}

type Options interface {
	Timeouts() Timeouts
}

// WebDriver is the full capability set of a Driver.
type WebDriver interface {
	Navigator
	SearchContext
	WindowManager
	Navigate() Navigation
	Manage() Options
	Quit(ctx context.Context) error
}

var _ WebDriver = (*Driver)(nil)

// Config configures a Driver.
type Config struct {
	DispatcherConfig
	Wait         WaitConfig
	Capabilities map[string]any
	// Clock drives lookup polling; nil means the wall clock.
	Clock Clock
}

// Driver drives one remote session.
type Driver struct {
	session    *Session
	sessions   *SessionManager
	dispatcher *Dispatcher
	finder     *Finder
	windows    *WindowRegistry
}

// New connects to the remote endpoint and opens a session.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	dispatcher, err := NewDispatcher(cfg.DispatcherConfig)
	if err != nil {
		return nil, err
	}
	policy, err := NewWaitPolicy(cfg.Wait)
	if err != nil {
		return nil, err
	}
	sessions := NewSessionManager(dispatcher)
	return Open(ctx, sessions, NewFinder(dispatcher, policy, cfg.Clock), cfg.Capabilities)
}

// Open starts a session through an existing manager. Drivers opened from one
// manager share the finder's wait policy.
func Open(ctx context.Context, sessions *SessionManager, finder *Finder, capabilities map[string]any) (*Driver, error) {
	session, err := sessions.Open(ctx, capabilities)
	if err != nil {
		return nil, err
	}
	return &Driver{
		session:    session,
		sessions:   sessions,
		dispatcher: sessions.dispatcher,
		finder:     finder,
		windows:    NewWindowRegistry(sessions.dispatcher),
	}, nil
}

func (d *Driver) Session() *Session {
	return d.session
}

// WithWait returns a driver on the same session whose lookups use cfg.
func (d *Driver) WithWait(cfg WaitConfig) (*Driver, error) {
	policy, err := d.finder.Policy().WithConfig(cfg)
	if err != nil {
		return nil, err
	}
	scoped := *d
	scoped.finder = d.finder.withPolicy(policy)
	return &scoped, nil
}

// Get loads url in the current window and blocks until the load completes.
func (d *Driver) Get(ctx context.Context, url string) error {
	_, err := d.dispatcher.Execute(ctx, d.session, protocol.NavigateTo, Params{"url": url})
	return err
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	value, err := d.dispatcher.Execute(ctx, d.session, protocol.GetCurrentURL, nil)
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Title returns the page title with surrounding whitespace removed.
func (d *Driver) Title(ctx context.Context) (string, error) {
	value, err := d.dispatcher.Execute(ctx, d.session, protocol.GetTitle, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value.String()), nil
}

func (d *Driver) PageSource(ctx context.Context) (string, error) {
	value, err := d.dispatcher.Execute(ctx, d.session, protocol.GetPageSource, nil)
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func (d *Driver) FindElement(ctx context.Context, loc Locator) (*Element, error) {
	return d.finder.FindOne(ctx, d.session, loc)
}

func (d *Driver) FindElements(ctx context.Context, loc Locator) ([]*Element, error) {
	return d.finder.FindAll(ctx, d.session, loc)
}

func (d *Driver) WindowHandles(ctx context.Context) ([]WindowHandle, error) {
	return d.windows.Handles(ctx, d.session)
}

func (d *Driver) WindowHandle(ctx context.Context) (WindowHandle, error) {
	return d.windows.Current(ctx, d.session)
}

func (d *Driver) SwitchTo(ctx context.Context, handle WindowHandle) error {
	return d.windows.SwitchTo(ctx, d.session, handle)
}

// Close closes the current window. Closing the last window ends the session.
func (d *Driver) Close(ctx context.Context) error {
	remaining, err := d.windows.closeCurrent(ctx, d.session)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		log.Debugf("Last window of session %s closed, quitting", d.session.id)
		return d.sessions.Close(ctx, d.session)
	}
	return nil
}

// Quit ends the session and every window in it. Quitting twice is a no-op.
func (d *Driver) Quit(ctx context.Context) error {
	return d.sessions.Close(ctx, d.session)
}

func (d *Driver) Navigate() Navigation {
	return navigation{d}
}

func (d *Driver) Manage() Options {
	return options{d}
}

type navigation struct {
	d *Driver
}

func (n navigation) To(ctx context.Context, url string) error {
	return n.d.Get(ctx, url)
}

func (n navigation) Back(ctx context.Context) error {
	_, err := n.d.dispatcher.Execute(ctx, n.d.session, protocol.Back, nil)
	return err
}

func (n navigation) Forward(ctx context.Context) error {
	_, err := n.d.dispatcher.Execute(ctx, n.d.session, protocol.Forward, nil)
	return err
}

func (n navigation) Refresh(ctx context.Context) error {
	_, err := n.d.dispatcher.Execute(ctx, n.d.session, protocol.Refresh, nil)
	return err
}

type options struct {
	d *Driver
}

func (o options) Timeouts() Timeouts {
	return timeouts{o.d.finder.Policy()}
}

type timeouts struct {
	policy *WaitPolicy
}

// ImplicitlyWait sets the lookup timeout, shrinking the poll interval if it no longer fits.
func (t timeouts) ImplicitlyWait(timeout time.Duration) error {
	cfg := t.policy.CurrentConfig()
	cfg.Timeout = timeout
	if cfg.PollInterval > timeout {
		cfg.PollInterval = timeout
	}
	return t.policy.Set(cfg)
}

func (t timeouts) PollEvery(interval time.Duration) error {
	cfg := t.policy.CurrentConfig()
	cfg.PollInterval = interval
	return t.policy.Set(cfg)
}

func (t timeouts) Wait() WaitConfig {
	return t.policy.CurrentConfig()
}
