package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/chromedp/cdproto/domstorage"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

// AuthInfo is browser state restored into every new session.
type AuthInfo struct {
	Origin       string                 `json:"origin"`
	Cookies      []*network.CookieParam `json:"cookies"`
	LocalStorage map[string]string      `json:"local_storage"`
}

// LoadAuthInfo restores cookies and local storage from authFilePath.
// A missing file is not an error.
func LoadAuthInfo(ctx context.Context, authFilePath string) error {
	authData, err := os.ReadFile(authFilePath)
	if os.IsNotExist(err) {
		log.Debugf("Auth file %s not found, starting with a clean profile", authFilePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read auth file %s: %w", authFilePath, err)
	}

	var auth AuthInfo
	if err = json.Unmarshal(authData, &auth); err != nil {
		return fmt.Errorf("decode auth file %s: %w", authFilePath, err)
	}

	if err = SetCookies(ctx, auth.Cookies); err != nil {
		return err
	}
	if len(auth.LocalStorage) > 0 && auth.Origin != "" {
		if err = SetLocalStorages(ctx, auth.Origin, auth.LocalStorage); err != nil {
			return fmt.Errorf("write local storage: %w", err)
		}
	}

	log.Debugf("Successfully loaded auth info from file %s", authFilePath)
	return nil
}

// SetLocalStorages writes items into the local storage of origin.
func SetLocalStorages(ctx context.Context, origin string, items map[string]string) error {
	parsedUrl, err := url.Parse(origin)
	if err != nil {
		return err
	}
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			storageID := &domstorage.StorageID{
				SecurityOrigin: fmt.Sprintf("%s://%s", parsedUrl.Scheme, parsedUrl.Host),
				IsLocalStorage: true,
			}
			for key, value := range items {
				if errSet := domstorage.SetDOMStorageItem(storageID, key, value).Do(ctx); errSet != nil {
					return errSet
				}
			}
			return nil
		}),
	)
}
