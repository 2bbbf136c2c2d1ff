// Package humble implements a Humble Bundle web API client: login, order
// listing, and key reveal.
package humble

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

const (
	// DefaultBaseURL is the Humble Bundle origin.
	DefaultBaseURL = "https://www.humblebundle.com"

	loginPagePath    = "/login"
	libraryPagePath  = "/home/library"
	loginAPIPath     = "/processlogin"
	redeemAPIPath    = "/humbler/redeemkey"
	ordersAPIPath    = "/api/v1/user/order"
	orderDetailsPath = "/api/v1/order/"

	csrfCookieName = "csrf_cookie"
	csrfHeaderName = "CSRF-Prevention-Token"
)

// ClientConfig holds configuration for the Humble client.
type ClientConfig struct {
	BaseURL    string        // defaults to DefaultBaseURL
	CookieFile string        // optional path for session persistence
	Timeout    time.Duration // defaults to 30s
}

// Client is an authenticated Humble Bundle session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	noRedirect *http.Client
	jar        http.CookieJar
	cookieFile string
}

// NewClient creates a Humble client. If a cookie file is configured and
// readable, the saved session is loaded into the cookie jar.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Jar: jar, Timeout: timeout},
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
		if err := loadCookies(c.cookieFile, jar, baseURL); err != nil {
			log.Debug().Err(err).Msg("No saved Humble session")
		}
	}

	return c, nil
}

// VerifySession reports whether the current cookies carry a live login.
// Humble redirects anonymous requests for the library page.
func (c *Client) VerifySession(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+libraryPagePath, nil)
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

// SaveSession persists the current cookies for later runs.
func (c *Client) SaveSession() error {
	if c.cookieFile == "" {
		return nil
	}
	return saveCookies(c.cookieFile, c.jar, c.baseURL)
}

// csrfToken returns the current CSRF prevention token, if any.
func (c *Client) csrfToken() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.jar.Cookies(u) {
		if cookie.Name == csrfCookieName {
			return cookie.Value
		}
	}
	return ""
}

// postForm issues an API POST with Humble's expected headers, including the
// CSRF prevention token taken from the session cookies.
func (c *Client) postForm(ctx context.Context, path string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	if token := c.csrfToken(); token != "" {
		req.Header.Set(csrfHeaderName, token)
	}
	return c.httpClient.Do(req)
}

// getJSON issues a GET and decodes the JSON response body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("humble API %s returned %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return json.NewDecoder(resp.Body).Decode(out)
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

func saveCookies(path string, jar http.CookieJar, origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return err
	}
	var out []savedCookie
	for _, c := range jar.Cookies(u) {
		out = append(out, savedCookie{
			Name: c.Name, Value: c.Value, Path: c.Path,
			Domain: c.Domain, Expires: c.Expires, Secure: c.Secure,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func loadCookies(path string, jar http.CookieJar, origin string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var in []savedCookie
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parse cookie file: %w", err)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return err
	}
	cookies := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		cookies = append(cookies, &http.Cookie{
			Name: c.Name, Value: c.Value, Path: c.Path,
			Domain: c.Domain, Expires: c.Expires, Secure: c.Secure,
		})
	}
	jar.SetCookies(u, cookies)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
