package humble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// Prompter supplies credentials and challenge codes during login.
// Implementations own all terminal interaction; this package never reads
// stdin directly.
type Prompter interface {
	Ask(label string) (string, error)
	AskSecret(label string) (string, error)
}

// ErrSessionExpired indicates the saved session no longer works and an
// interactive login is required.
var ErrSessionExpired = errors.New("humble session expired")

// AuthError is a terminal login failure.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "humble authentication failed: " + e.Reason
}

// loginResponse mirrors the fields of /processlogin we react to.
type loginResponse struct {
	Errors              map[string][]string `json:"errors"`
	HumbleGuardRequired *json.RawMessage    `json:"humble_guard_required"`
	TwoFactorRequired   *json.RawMessage    `json:"two_factor_required"`
	UserTermsOptInData  *struct {
		NeedsToOptIn bool `json:"needs_to_opt_in"`
	} `json:"user_terms_opt_in_data"`
}

func (r *loginResponse) usernameError() string {
	if msgs, ok := r.Errors["username"]; ok && len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

func (r *loginResponse) needsAuthyCode() bool {
	_, ok := r.Errors["authy-input"]
	return r.TwoFactorRequired != nil && ok
}

// Login establishes an authenticated Humble session. The saved session is
// tried first; if it is dead the user is walked through the credential and
// guard/2FA flow via the prompter. On success the session is persisted.
func (c *Client) Login(ctx context.Context, prompter Prompter) error {
	if c.VerifySession(ctx) {
		log.Debug().Msg("Reusing saved Humble session")
		return nil
	}
	if prompter == nil {
		return ErrSessionExpired
	}
	c.clearSession()

	for {
		username, err := prompter.Ask("Humble email")
		if err != nil {
			return err
		}
		password, err := prompter.AskSecret("Humble password")
		if err != nil {
			return err
		}

		// Prime the CSRF cookie
		if err := c.fetchLoginPage(ctx); err != nil {
			return fmt.Errorf("load login page: %w", err)
		}

		payload := url.Values{
			"access_token":             {""},
			"access_token_provider_id": {""},
			"goto":                     {"/"},
			"qs":                       {""},
			"username":                 {username},
			"password":                 {password},
		}

		result, err := c.submitLogin(ctx, payload)
		if err != nil {
			return err
		}

		if msg := result.usernameError(); msg != "" {
			log.Error().Str("reason", msg).Msg("Humble rejected the credentials")
			continue
		}

		if err := c.resolveChallenges(ctx, prompter, payload, result); err != nil {
			return err
		}

		if err := c.SaveSession(); err != nil {
			log.Warn().Err(err).Msg("Could not persist Humble session cookies")
		}
		return nil
	}
}

// resolveChallenges loops through Humble Guard and 2FA challenges until the
// login completes or fails terminally.
func (c *Client) resolveChallenges(ctx context.Context, prompter Prompter, payload url.Values, result *loginResponse) error {
	for result.HumbleGuardRequired != nil || result.TwoFactorRequired != nil {
		switch {
		case result.HumbleGuardRequired != nil:
			code, err := prompter.Ask("Humble Guard code")
			if err != nil {
				return err
			}
			payload.Set("guard", strings.ToUpper(code))

		case result.needsAuthyCode():
			code, err := prompter.Ask("2FA code")
			if err != nil {
				return err
			}
			payload.Set("code", code)

		default:
			return &AuthError{Reason: fmt.Sprintf("unexpected login errors: %v", result.Errors)}
		}

		next, err := c.submitLogin(ctx, payload)
		if err != nil {
			return err
		}
		if next.UserTermsOptInData != nil && next.UserTermsOptInData.NeedsToOptIn {
			return &AuthError{Reason: "terms-of-service update required, sign in with a browser first"}
		}
		if next.HumbleGuardRequired == nil && next.TwoFactorRequired == nil {
			break
		}
		result = next
	}
	return nil
}

func (c *Client) fetchLoginPage(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+loginPagePath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) submitLogin(ctx context.Context, payload url.Values) (*loginResponse, error) {
	resp, err := c.postForm(ctx, loginAPIPath, payload)
	if err != nil {
		return nil, fmt.Errorf("submit login: %w", err)
	}
	defer resp.Body.Close()

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return &result, nil
}

func (c *Client) clearSession() {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	expired := make([]*http.Cookie, 0)
	for _, cookie := range c.jar.Cookies(u) {
		expired = append(expired, &http.Cookie{Name: cookie.Name, Value: "", MaxAge: -1})
	}
	c.jar.SetCookies(u, expired)
}
