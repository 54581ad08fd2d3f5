package chrome

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/luispater/anyWebDriver/internal/config"
	"github.com/luispater/anyWebDriver/internal/protocol"
	"github.com/luispater/anyWebDriver/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTranslateSelector(t *testing.T) {
	selector, byXPath := translateSelector("css selector", "#main > a")
	assert.Equal(t, "#main > a", selector)
	assert.False(t, byXPath)

	selector, byXPath = translateSelector("tag name", "a")
	assert.Equal(t, "a", selector)
	assert.False(t, byXPath)

	selector, byXPath = translateSelector("link text", " Sign in ")
	assert.Equal(t, "//a[normalize-space(string(.))='Sign in']", selector)
	assert.True(t, byXPath)

	selector, byXPath = translateSelector("partial link text", "Sign")
	assert.Equal(t, "//a[contains(string(.), 'Sign')]", selector)
	assert.True(t, byXPath)
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", xpathLiteral("plain"))
	assert.Equal(t, `"it's"`, xpathLiteral("it's"))
	assert.Equal(t, `concat('a', "'", 'b"c')`, xpathLiteral(`a'b"c`))
}

func TestElementIDsRetireOnReset(t *testing.T) {
	s := newSession(context.Background(), nil, nil)

	node := &cdp.Node{NodeID: 7, BackendNodeID: 70}
	id := s.remember(node)
	assert.Equal(t, id, s.remember(&cdp.Node{NodeID: 8, BackendNodeID: 70}), "same backend node keeps its id")

	got, err := s.node(id)
	require.NoError(t, err)
	assert.Equal(t, cdp.NodeID(8), got.NodeID)

	s.resetElements()
	_, err = s.node(id)
	var remoteErr *remote.Error
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, protocol.CodeStaleElement, remoteErr.Code)

	_, err = s.node("never-seen")
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, protocol.CodeNoSuchElement, remoteErr.Code)
}

func TestNodeErrorRetiresDetachedNodes(t *testing.T) {
	s := newSession(context.Background(), nil, nil)
	id := s.remember(&cdp.Node{NodeID: 3, BackendNodeID: 30})

	err := s.nodeError(id, errors.New("Could not find node with given id (-32000)"))
	var remoteErr *remote.Error
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, protocol.CodeStaleElement, remoteErr.Code)

	_, err = s.node(id)
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, protocol.CodeStaleElement, remoteErr.Code)
	assert.NotEqual(t, id, s.remember(&cdp.Node{NodeID: 4, BackendNodeID: 30}), "a new document gets new ids")

	other := errors.New("websocket closed")
	assert.Equal(t, other, s.nodeError(id, other))

	hidden := remote.NewError(protocol.CodeElementNotInteractable, "element is not displayed")
	assert.Equal(t, error(hidden), s.nodeError(id, hidden))
}

func TestWindowHandleWithoutFocus(t *testing.T) {
	s := newSession(context.Background(), nil, nil)
	_, err := s.WindowHandle(context.Background())
	var remoteErr *remote.Error
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, protocol.CodeNoSuchWindow, remoteErr.Code)
}

func TestAllocatorOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Args = []string{"--lang=en-US", "--mute-audio", ""}
	cfg.Browser.UserDataDir = t.TempDir()

	opts := allocatorOptions(cfg, "/usr/bin/chromium")
	// defaults, exec path, three headless options, user data dir, two args
	assert.Len(t, opts, 2+1+3+1+2)
}

func TestNewSessionRejectsOtherBrowsers(t *testing.T) {
	manager, err := NewManager(config.Default())
	require.NoError(t, err)
	defer func() {
		_ = manager.Close()
	}()

	caps := gjson.Parse(`{"alwaysMatch":{"browserName":"firefox"}}`)
	_, err = manager.NewSession(context.Background(), caps)
	var remoteErr *remote.Error
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, protocol.CodeSessionNotCreated, remoteErr.Code)
}
