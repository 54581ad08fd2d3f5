package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/luispater/anyWebDriver/internal/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/net/proxy"
)

// Params carries command arguments. Keys naming a route placeholder fill the
// path; every other key becomes a field of the JSON body.
type Params map[string]any

// DispatcherConfig configures the connection to a remote endpoint.
type DispatcherConfig struct {
	RemoteURL string
	// ProxyURL is an optional http, https or socks5 proxy.
	ProxyURL string
	// CallTimeout bounds every single request; zero means no bound.
	CallTimeout time.Duration
	// HTTPClient overrides the client built from ProxyURL.
	HTTPClient *http.Client
}

// Dispatcher turns commands into HTTP requests against a remote endpoint.
type Dispatcher struct {
	baseURL     string
	client      *http.Client
	callTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	parsed, err := url.Parse(cfg.RemoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported remote URL scheme: %q", parsed.Scheme)
	}

	client := cfg.HTTPClient
	if client == nil {
		transport, errTransport := newTransport(cfg.ProxyURL)
		if errTransport != nil {
			return nil, errTransport
		}
		client = &http.Client{Transport: transport}
	}

	return &Dispatcher{
		baseURL:     strings.TrimSuffix(parsed.String(), "/"),
		client:      client,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// newTransport builds a transport that reaches the endpoint through proxyURL.
func newTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		transport.Proxy = nil
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %v", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			auth = &proxy.Auth{User: parsed.User.Username()}
			auth.Password, _ = parsed.User.Password()
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if errSOCKS5 != nil {
			return nil, fmt.Errorf("create socks5 dialer: %w", errSOCKS5)
		}
		transport.Proxy = nil
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return transport, nil
}

// Execute runs one command against an active session and returns the
// response value. Commands on the same session never overlap.
func (d *Dispatcher) Execute(ctx context.Context, s *Session, cmd protocol.Command, params Params) (gjson.Result, error) {
	if s == nil {
		return gjson.Result{}, newError(KindInvalidSessionState, cmd, "no session", nil)
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.IsActive() {
		return gjson.Result{}, newError(KindInvalidSessionState, cmd, fmt.Sprintf("session %s is %s", s.id, s.State()), nil)
	}

	value, err := d.send(ctx, cmd, s, params)
	if err != nil && KindOf(err) == KindInvalidSessionState {
		if s.markClosed() {
			log.Debugf("Remote reports session %s terminated", s.id)
		}
	}
	return value, err
}

// Status queries endpoint readiness; it needs no session.
func (d *Dispatcher) Status(ctx context.Context) (gjson.Result, error) {
	return d.send(ctx, protocol.Status, nil, nil)
}

func (d *Dispatcher) send(ctx context.Context, cmd protocol.Command, s *Session, params Params) (gjson.Result, error) {
	route, err := protocol.Lookup(cmd)
	if err != nil {
		return gjson.Result{}, newError(KindInvalidArgument, cmd, "", err)
	}

	pathValues := make(map[string]string)
	if s != nil {
		pathValues[protocol.ParamSessionID] = s.id
	}
	placeholders := make(map[string]bool)
	for _, name := range route.Placeholders() {
		placeholders[name] = true
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	body := "{}"
	for _, key := range keys {
		if placeholders[key] {
			pathValues[key] = fmt.Sprint(params[key])
			continue
		}
		body, err = sjson.Set(body, key, params[key])
		if err != nil {
			return gjson.Result{}, newError(KindInvalidArgument, cmd, fmt.Sprintf("encode %s", key), err)
		}
	}

	path, err := route.Expand(pathValues)
	if err != nil {
		return gjson.Result{}, newError(KindInvalidArgument, cmd, "", err)
	}

	parent := ctx
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	var reader io.Reader
	if route.Method == http.MethodPost {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, route.Method, d.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, newError(KindInvalidArgument, cmd, "", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	log.Debugf("Dispatching %s: %s %s", cmd, route.Method, path)
	startTime := time.Now()

	resp, err := d.client.Do(req)
	if err != nil {
		return gjson.Result{}, transportError(parent, cmd, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, transportError(parent, cmd, err)
	}
	log.Debugf("Command %s answered %d in %v", cmd, resp.StatusCode, time.Since(startTime))

	return decodeResponse(cmd, resp.StatusCode, data)
}

func decodeResponse(cmd protocol.Command, status int, data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, newError(KindRemote, cmd, fmt.Sprintf("malformed response (HTTP %d)", status), nil)
	}

	value := gjson.GetBytes(data, "value")
	code := value.Get("error")
	if status >= http.StatusBadRequest || (value.IsObject() && code.Type == gjson.String) {
		errorCode := code.String()
		if errorCode == "" {
			errorCode = protocol.CodeUnknownError
		}
		return gjson.Result{}, &Error{
			Kind:    kindForCode(cmd, errorCode),
			Command: cmd,
			Code:    errorCode,
			Message: value.Get("message").String(),
		}
	}
	return value, nil
}

// transportError separates deadline failures, which a caller may retry, from
// an endpoint that cannot be reached at all. When the caller's own context is
// done the error is passed through unclassified.
func transportError(parent context.Context, cmd protocol.Command, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("%s: %w", cmd, parentErr)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, cmd, "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, cmd, "", err)
	}
	return newError(KindUnreachable, cmd, "", err)
}
