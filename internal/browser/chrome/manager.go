package chrome

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/luispater/anyWebDriver/internal/config"
	"github.com/luispater/anyWebDriver/internal/protocol"
	"github.com/luispater/anyWebDriver/internal/remote"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const BrowserName = "chrome"

// Manager launches one Chrome process per endpoint session.
type Manager struct {
	appConfig   *config.AppConfig
	allocator   context.Context
	allocCancel context.CancelFunc
	execPath    string
}

var _ remote.Backend = (*Manager)(nil)

// NewManager creates a new Chromedp Manager instance.
// It initializes the allocator context but does not launch a browser yet.
func NewManager(appConfig *config.AppConfig) (*Manager, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("appConfig cannot be nil")
	}

	execPath := appConfig.Browser.ChromePath
	if execPath == "" {
		execPath = os.Getenv("CHROME_BIN")
		if execPath == "" {
			log.Warn("Chromedp browser path not specified in config or CHROME_BIN env, will attempt auto-detection.")
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(appConfig, execPath)...)

	return &Manager{
		appConfig:   appConfig,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		execPath:    execPath,
	}, nil
}

func allocatorOptions(appConfig *config.AppConfig, execPath string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}

	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	if appConfig.Headless {
		opts = append(opts, chromedp.Flag("headless", true))
		opts = append(opts, chromedp.Flag("disable-gpu", true))
		opts = append(opts, chromedp.WindowSize(1920, 1080))
	}

	if appConfig.Browser.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(appConfig.Browser.UserDataDir))
	}

	if appConfig.Browser.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(appConfig.Browser.UserAgent))
	}

	for _, arg := range appConfig.Browser.Args {
		if arg != "" {
			parts := strings.SplitN(arg, "=", 2)
			if len(parts) == 2 {
				opts = append(opts, chromedp.Flag(strings.TrimPrefix(parts[0], "--"), parts[1]))
			} else {
				opts = append(opts, chromedp.Flag(strings.TrimPrefix(parts[0], "--"), true))
			}
		}
	}
	return opts
}

// NewSession launches a browser for one endpoint session.
func (m *Manager) NewSession(ctx context.Context, capabilities gjson.Result) (remote.BrowserSession, error) {
	if m.allocator == nil {
		return nil, fmt.Errorf("manager not properly initialized, allocator is nil")
	}

	browserName := capabilities.Get("alwaysMatch.browserName").String()
	if browserName != "" && browserName != BrowserName {
		return nil, remote.NewError(protocol.CodeSessionNotCreated, "browser %q is not available, only %q", browserName, BrowserName)
	}

	browserCtx, browserCancel := chromedp.NewContext(
		m.allocator,
		chromedp.WithLogf(log.Infof),
	)

	// The first Run launches the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	log.Infof("Chromedp browser launched successfully with path: %s", m.execPath)

	session := newSession(browserCtx, browserCancel, map[string]any{
		"browserName":         BrowserName,
		"acceptInsecureCerts": false,
		"pageLoadStrategy":    "normal",
	})

	if m.appConfig.Browser.AuthFile != "" {
		if err := LoadAuthInfo(browserCtx, m.appConfig.Browser.AuthFile); err != nil {
			log.Debugf("Failed to load auth info: %v", err)
		} else {
			log.Debug("Successfully loaded auth info")
		}
	}

	return session, nil
}

// Close shuts every browser process down.
func (m *Manager) Close() error {
	if m.allocCancel != nil {
		log.Debug("Cancelling Chromedp allocator context...")
		m.allocCancel()
		m.allocCancel = nil
		m.allocator = nil
		log.Info("Chromedp allocator context cancelled and browser processes shut down.")
	}

	log.Info("Chromedp Manager closed.")
	return nil
}

// SetCookies installs cookies in the browser of ctx.
func SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(cookies).Do(ctx)
	}))

	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}
