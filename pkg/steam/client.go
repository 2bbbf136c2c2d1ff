// Package steam implements a Steam web client: login via
// IAuthenticationService, owned-content listing, key registration, and the
// IStoreService catalog fetch used for ownership detection.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Default endpoint origins. Overridable in ClientConfig for tests.
const (
	DefaultAPIBase       = "https://api.steampowered.com"
	DefaultStoreBase     = "https://store.steampowered.com"
	DefaultLoginBase     = "https://login.steampowered.com"
	DefaultCommunityBase = "https://steamcommunity.com"

	userdataPath    = "/dynamicstore/userdata/"
	registerKeyPath = "/account/ajaxregisterkey/"
	keysPagePath    = "/account/registerkey"

	sessionIDCookie = "sessionid"
)

// rateLimitCode is what the registration endpoint returns when throttled.
// Undecodable responses map to it as well so the caller retries instead of
// silently dropping the key.
const rateLimitCode = 53

// ClientConfig holds configuration for the Steam client.
type ClientConfig struct {
	APIBase       string
	StoreBase     string
	LoginBase     string
	CommunityBase string
	CookieFile    string
	Timeout       time.Duration
}

// Client is an authenticated Steam web session.
type Client struct {
	apiBase       string
	storeBase     string
	loginBase     string
	communityBase string

	httpClient *http.Client
	noRedirect *http.Client
	jar        http.CookieJar
	cookieFile string
}

// NewClient creates a Steam client, loading any saved session cookies.
func NewClient(cfg ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		apiBase:       defaultIfEmpty(cfg.APIBase, DefaultAPIBase),
		storeBase:     defaultIfEmpty(cfg.StoreBase, DefaultStoreBase),
		loginBase:     defaultIfEmpty(cfg.LoginBase, DefaultLoginBase),
		communityBase: defaultIfEmpty(cfg.CommunityBase, DefaultCommunityBase),
		httpClient:    &http.Client{Jar: jar, Timeout: timeout},
		noRedirect: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		jar:        jar,
		cookieFile: cfg.CookieFile,
	}

	if c.cookieFile != "" {
		if err := c.loadCookies(); err != nil {
			log.Debug().Err(err).Msg("No saved Steam session")
		}
	}

	return c, nil
}

// VerifySession reports whether the session can reach the key registration
// page without being bounced to login.
func (c *Client) VerifySession(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.storeBase+keysPagePath, nil)
	if err != nil {
		return false
	}
	resp, err := c.noRedirect.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode != http.StatusMovedPermanently && resp.StatusCode != http.StatusFound
}

// SessionID returns the store session id cookie value, used as the CSRF
// token on key registration.
func (c *Client) SessionID() string {
	u, err := url.Parse(c.storeBase)
	if err != nil {
		return ""
	}
	for _, cookie := range c.jar.Cookies(u) {
		if cookie.Name == sessionIDCookie {
			return cookie.Value
		}
	}
	return ""
}

// OwnedIDs returns the union of owned app and package identifiers from the
// per-user dynamic store data.
func (c *Client) OwnedIDs(ctx context.Context) (map[int]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.storeBase+userdataPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userdata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userdata returned %d", resp.StatusCode)
	}

	var data struct {
		OwnedApps     []int `json:"rgOwnedApps"`
		OwnedPackages []int `json:"rgOwnedPackages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode userdata: %w", err)
	}

	owned := make(map[int]struct{}, len(data.OwnedApps)+len(data.OwnedPackages))
	for _, id := range data.OwnedApps {
		owned[id] = struct{}{}
	}
	for _, id := range data.OwnedPackages {
		owned[id] = struct{}{}
	}
	return owned, nil
}

// RegisterKey submits a product key for activation and returns the raw
// result code: 0 on success, otherwise the platform's result-detail code.
// Responses that do not decode, or that carry no code, are reported as the
// rate-limit code so the caller's retry path engages.
func (c *Client) RegisterKey(ctx context.Context, key string) (int, error) {
	data := url.Values{
		"product_key": {key},
		"sessionid":   {c.SessionID()},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.storeBase+registerKeyPath, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("register key: %w", err)
	}
	defer resp.Body.Close()

	var blob struct {
		Success             int  `json:"success"`
		PurchaseResultCode  *int `json:"purchase_result_details"`
		PurchaseReceiptInfo *struct {
			ResultDetail *int `json:"result_detail"`
		} `json:"purchase_receipt_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&blob); err != nil {
		log.Debug().Err(err).Msg("Undecodable register response, treating as rate limit")
		return rateLimitCode, nil
	}

	if blob.Success == 1 {
		return 0, nil
	}

	code := blob.PurchaseResultCode
	if code == nil && blob.PurchaseReceiptInfo != nil {
		code = blob.PurchaseReceiptInfo.ResultDetail
	}
	if code == nil || *code == 0 {
		return rateLimitCode, nil
	}
	return *code, nil
}

// SaveSession persists the current cookies for later runs.
func (c *Client) SaveSession() error {
	if c.cookieFile == "" {
		return nil
	}

	out := make(map[string][]savedCookie)
	for _, origin := range c.origins() {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		for _, cookie := range c.jar.Cookies(u) {
			out[origin] = append(out[origin], savedCookie{
				Name: cookie.Name, Value: cookie.Value, Path: cookie.Path,
				Domain: cookie.Domain, Expires: cookie.Expires, Secure: cookie.Secure,
			})
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(c.cookieFile, data, 0o600)
}

func (c *Client) loadCookies() error {
	data, err := os.ReadFile(c.cookieFile)
	if err != nil {
		return err
	}
	var in map[string][]savedCookie
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parse cookie file: %w", err)
	}
	for origin, cookies := range in {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		restored := make([]*http.Cookie, 0, len(cookies))
		for _, cookie := range cookies {
			restored = append(restored, &http.Cookie{
				Name: cookie.Name, Value: cookie.Value, Path: cookie.Path,
				Domain: cookie.Domain, Expires: cookie.Expires, Secure: cookie.Secure,
			})
		}
		c.jar.SetCookies(u, restored)
	}
	return nil
}

func (c *Client) origins() []string {
	return []string{c.storeBase, c.communityBase, c.loginBase, c.apiBase}
}

// savedCookie is the on-disk cookie representation.
type savedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Domain  string    `json:"domain,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
	Secure  bool      `json:"secure,omitempty"`
}

func defaultIfEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return strings.TrimSuffix(v, "/")
}
