package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/enkrypt/steam-redeemer/internal/retry"
	"github.com/rs/zerolog/log"
)

const (
	rsaKeyPath      = "/IAuthenticationService/GetPasswordRSAPublicKey/v1/"
	beginAuthPath   = "/IAuthenticationService/BeginAuthSessionViaCredentials/v1"
	guardCodePath   = "/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1"
	pollAuthPath    = "/IAuthenticationService/PollAuthSessionStatus/v1"
	finalizePath    = "/jwt/finalizelogin"
	loginSecureName = "steamLoginSecure"
)

// Steam Guard confirmation types.
const (
	confirmEmailCode  = 2
	confirmDeviceCode = 3
	confirmDevicePush = 4
)

// Prompter supplies credentials and guard codes during login.
type Prompter interface {
	Ask(label string) (string, error)
	AskSecret(label string) (string, error)
}

// ErrSessionExpired indicates the saved session no longer works and an
// interactive login is required.
var ErrSessionExpired = errors.New("steam session expired")

// AuthError is a terminal login failure.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "steam authentication failed: " + e.Reason
}

// authPollPolicy bounds the wait for Steam to confirm the auth session.
var authPollPolicy = retry.Policy{Interval: 2 * time.Second, MaxAttempts: 30}

// Login establishes an authenticated Steam web session. The saved session
// is tried first; with a nil prompter (scheduled runs) an expired session
// is a hard failure.
func (c *Client) Login(ctx context.Context, prompter Prompter) error {
	if c.VerifySession(ctx) {
		log.Debug().Msg("Reusing saved Steam session")
		return nil
	}
	if prompter == nil {
		return ErrSessionExpired
	}
	return c.credentialLogin(ctx, prompter)
}

func (c *Client) credentialLogin(ctx context.Context, prompter Prompter) error {
	account, err := prompter.Ask("Steam username")
	if err != nil {
		return err
	}
	password, err := prompter.AskSecret("Steam password")
	if err != nil {
		return err
	}

	for {
		begin, err := c.beginAuthSession(ctx, account, password)
		if err != nil {
			return err
		}
		if begin.ClientID == "" {
			log.Error().Msg("Login failed, check your username and password")
			password, err = prompter.AskSecret("Steam password")
			if err != nil {
				return err
			}
			continue
		}

		if err := c.confirmAuthSession(ctx, prompter, begin); err != nil {
			return err
		}

		refreshToken, err := c.pollAuthSession(ctx, begin)
		if err != nil {
			return err
		}

		return c.finalizeSession(ctx, refreshToken)
	}
}

type beginAuthResponse struct {
	ClientID             string `json:"client_id"`
	RequestID            string `json:"request_id"`
	SteamID              string `json:"steamid"`
	AllowedConfirmations []struct {
		ConfirmationType int `json:"confirmation_type"`
	} `json:"allowed_confirmations"`
}

// beginAuthSession encrypts the password against the account's RSA key and
// opens an auth session.
func (c *Client) beginAuthSession(ctx context.Context, account, password string) (*beginAuthResponse, error) {
	pub, timestamp, err := c.passwordRSAKey(ctx, account)
	if err != nil {
		return nil, err
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("encrypt password: %w", err)
	}

	data := url.Values{
		"persistence":          {"1"},
		"encrypted_password":   {base64.StdEncoding.EncodeToString(encrypted)},
		"account_name":         {account},
		"encryption_timestamp": {timestamp},
	}

	var wrapper struct {
		Response beginAuthResponse `json:"response"`
	}
	if err := c.postAPIForm(ctx, c.apiBase+beginAuthPath, data, &wrapper); err != nil {
		return nil, fmt.Errorf("begin auth session: %w", err)
	}
	return &wrapper.Response, nil
}

// passwordRSAKey fetches the account's login RSA public key.
func (c *Client) passwordRSAKey(ctx context.Context, account string) (*rsa.PublicKey, string, error) {
	u := c.apiBase + rsaKeyPath + "?account_name=" + url.QueryEscape(account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch RSA key: %w", err)
	}
	defer resp.Body.Close()

	var wrapper struct {
		Response struct {
			Mod       string `json:"publickey_mod"`
			Exp       string `json:"publickey_exp"`
			Timestamp string `json:"timestamp"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, "", fmt.Errorf("decode RSA key response: %w", err)
	}

	mod, ok := new(big.Int).SetString(wrapper.Response.Mod, 16)
	if !ok {
		return nil, "", fmt.Errorf("invalid RSA modulus")
	}
	exp, ok := new(big.Int).SetString(wrapper.Response.Exp, 16)
	if !ok {
		return nil, "", fmt.Errorf("invalid RSA exponent")
	}

	return &rsa.PublicKey{N: mod, E: int(exp.Int64())}, wrapper.Response.Timestamp, nil
}

// confirmAuthSession handles whichever Steam Guard confirmation the account
// requires: device/TOTP code, email code, or mobile push approval.
func (c *Client) confirmAuthSession(ctx context.Context, prompter Prompter, begin *beginAuthResponse) error {
	types := make(map[int]bool)
	for _, conf := range begin.AllowedConfirmations {
		types[conf.ConfirmationType] = true
	}

	switch {
	case types[confirmDeviceCode]:
		code, err := prompter.Ask("Steam Guard code")
		if err != nil {
			return err
		}
		if code != "" {
			return c.submitGuardCode(ctx, begin, code, confirmDeviceCode)
		}
	case types[confirmEmailCode]:
		code, err := prompter.Ask("Steam Guard email code")
		if err != nil {
			return err
		}
		return c.submitGuardCode(ctx, begin, code, confirmEmailCode)
	case types[confirmDevicePush]:
		log.Info().Msg("Confirm the login on your Steam mobile app")
	}
	return nil
}

func (c *Client) submitGuardCode(ctx context.Context, begin *beginAuthResponse, code string, codeType int) error {
	data := url.Values{
		"client_id": {begin.ClientID},
		"steamid":   {begin.SteamID},
		"code":      {code},
		"code_type": {fmt.Sprintf("%d", codeType)},
	}
	if err := c.postAPIForm(ctx, c.apiBase+guardCodePath, data, &struct{}{}); err != nil {
		return fmt.Errorf("submit guard code: %w", err)
	}
	return nil
}

// pollAuthSession polls until Steam hands back a refresh token, bounded by
// authPollPolicy.
func (c *Client) pollAuthSession(ctx context.Context, begin *beginAuthResponse) (string, error) {
	var refreshToken string

	err := authPollPolicy.Do(ctx, func(ctx context.Context) (bool, error) {
		data := url.Values{
			"client_id":  {begin.ClientID},
			"request_id": {begin.RequestID},
		}
		var wrapper struct {
			Response struct {
				RefreshToken string `json:"refresh_token"`
			} `json:"response"`
		}
		if err := c.postAPIForm(ctx, c.apiBase+pollAuthPath, data, &wrapper); err != nil {
			return false, err
		}
		refreshToken = wrapper.Response.RefreshToken
		return refreshToken != "", nil
	})
	if errors.Is(err, retry.ErrAttemptsExhausted) {
		return "", &AuthError{Reason: "authentication timed out"}
	}
	if err != nil {
		return "", err
	}
	return refreshToken, nil
}

type transferInfo struct {
	URL    string         `json:"url"`
	Params map[string]any `json:"params"`
}

// finalizeSession exchanges a refresh token for full store and community
// session cookies.
func (c *Client) finalizeSession(ctx context.Context, refreshToken string) error {
	// Seed cookies (community issues a sessionid)
	for _, origin := range []string{c.communityBase, c.storeBase} {
		c.seedCookies(ctx, origin)
	}

	sessionID := c.cookieValue(c.communityBase, sessionIDCookie)
	if sessionID == "" {
		sessionID = randomSessionID()
	}
	for _, origin := range []string{c.storeBase, c.communityBase} {
		c.setCookie(origin, sessionIDCookie, sessionID)
	}

	data := url.Values{
		"nonce":     {refreshToken},
		"sessionid": {sessionID},
		"redir":     {c.storeBase + "/login/home/?goto="},
	}
	var finalize struct {
		SteamID      string         `json:"steamID"`
		TransferInfo []transferInfo `json:"transfer_info"`
	}
	if err := c.postAPIForm(ctx, c.loginBase+finalizePath, data, &finalize); err != nil {
		return fmt.Errorf("finalize login: %w", err)
	}

	for _, transfer := range finalize.TransferInfo {
		if transfer.URL == "" {
			continue
		}
		params := url.Values{"steamID": {finalize.SteamID}}
		for k, v := range transfer.Params {
			params.Set(k, fmt.Sprint(v))
		}
		if err := c.postAPIForm(ctx, transfer.URL, params, nil); err != nil {
			log.Debug().Err(err).Str("url", transfer.URL).Msg("Transfer request failed")
		}
	}

	// Some transfer endpoints skip the store; set the login cookie manually
	// from the transfer auth tokens when that happens.
	if c.cookieValue(c.storeBase, loginSecureName) == "" {
		log.Debug().Msg("Transfer URLs did not set store cookies, setting manually")
		for _, transfer := range finalize.TransferInfo {
			auth, _ := transfer.Params["auth"].(string)
			if auth == "" || transfer.URL == "" {
				continue
			}
			target, err := url.Parse(transfer.URL)
			if err != nil {
				continue
			}
			c.setCookie(target.Scheme+"://"+target.Host, loginSecureName, finalize.SteamID+"%7C%7C"+auth)
		}
	}

	if !c.VerifySession(ctx) {
		return &AuthError{Reason: "store session not established after login"}
	}

	if err := c.SaveSession(); err != nil {
		log.Warn().Err(err).Msg("Could not persist Steam session cookies")
	}
	log.Info().Msg("Steam store authenticated")
	return nil
}

func (c *Client) seedCookies(ctx context.Context, origin string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}

func (c *Client) cookieValue(origin, name string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	for _, cookie := range c.jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) setCookie(origin, name, value string) {
	u, err := url.Parse(origin)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value}})
}

// postAPIForm posts form data and decodes the JSON response into out when
// out is non-nil.
func (c *Client) postAPIForm(ctx context.Context, rawURL string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, truncate(string(body), 200))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func randomSessionID() string {
	buf := make([]byte, 12)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
