// Package auth brokers bearer tokens for the two trust domains the relay
// talks to: the placement submission API and the mailbox REST API. It wraps
// the identity platform's token endpoints and guarantees that at most one
// interactive sign-in is ever pending at a time.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel failures of the identity platform, distinguished because the
// broker recovers from them differently: interaction-required by prompting,
// interaction-in-progress by waiting, denial not at all.
var (
	ErrInteractionRequired   = errors.New("interaction required")
	ErrInteractionInProgress = errors.New("interaction already in progress")
	ErrPromptDenied          = errors.New("sign-in prompt denied")
)

// Token is one acquired bearer token with its scope set.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Identity is the identity platform collaborator. AcquireSilent never
// shows UI; AcquireInteractive may block on user action.
type Identity interface {
	AcquireSilent(ctx context.Context, account string, scopes []string) (*Token, error)
	AcquireInteractive(ctx context.Context, scopes []string) (*Token, error)
}

// defaultPollInterval is the device-code poll spacing used when the
// authorization server does not specify one.
const defaultPollInterval = 5 * time.Second

// Client implements Identity against the platform's OAuth2 v2.0 endpoints:
// refresh-token grant for silent acquisition and the device-code flow for
// interactive sign-in.
type Client struct {
	tokenURL      string
	deviceCodeURL string
	clientID      string
	httpClient    *http.Client

	mu       sync.Mutex
	account  string            // last seeded or signed-in account
	sessions map[string]string // account -> refresh token

	sleep func(context.Context, time.Duration) error
}

// NewClient creates an identity platform client for the given tenant.
func NewClient(tenantID, clientID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0", tenantID)
	return &Client{
		tokenURL:      base + "/token",
		deviceCodeURL: base + "/devicecode",
		clientID:      clientID,
		httpClient:    httpClient,
		sessions:      make(map[string]string),
		sleep:         sleepWithContext,
	}
}

// NewClientWithEndpoints creates a client with explicit endpoint URLs,
// used for testing.
func NewClientWithEndpoints(tokenURL, deviceCodeURL, clientID string, httpClient *http.Client) *Client {
	c := NewClient("common", clientID, httpClient)
	c.tokenURL = tokenURL
	c.deviceCodeURL = deviceCodeURL
	return c
}

// SeedSession installs a refresh token for an account, enabling silent
// acquisition without a prior interactive sign-in in this process.
func (c *Client) SeedSession(account, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = account
	if refreshToken != "" {
		c.sessions[sessionKey(account)] = refreshToken
	}
}

// AcquireSilent redeems the account's refresh token for an access token
// with the requested scopes. Returns ErrInteractionRequired when there is
// no usable session.
func (c *Client) AcquireSilent(ctx context.Context, account string, scopes []string) (*Token, error) {
	c.mu.Lock()
	refreshToken := c.sessions[sessionKey(account)]
	c.mu.Unlock()

	if refreshToken == "" {
		return nil, fmt.Errorf("no session for %s: %w", account, ErrInteractionRequired)
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
		"scope":         {strings.Join(scopes, " ")},
	}

	tok, oauthCode, err := c.postTokenRequest(ctx, data, scopes)
	if err != nil {
		if interactionRequiredCode(oauthCode) {
			return nil, fmt.Errorf("silent acquisition rejected (%s): %w", oauthCode, ErrInteractionRequired)
		}
		return nil, err
	}

	c.storeSession(account, tok)
	return tok, nil
}

// AcquireInteractive runs the device-code flow: it requests a user code,
// surfaces the verification prompt through the log, and polls the token
// endpoint until the user completes or declines sign-in. A completed
// sign-in establishes a session, so later silent acquisitions for the
// signed-in account succeed without another prompt.
func (c *Client) AcquireInteractive(ctx context.Context, scopes []string) (*Token, error) {
	dc, err := c.requestDeviceCode(ctx, scopes)
	if err != nil {
		return nil, err
	}

	slog.Info("interactive sign-in required",
		"verification_uri", dc.VerificationURI,
		"user_code", dc.UserCode,
		"expires_in", dc.ExpiresIn,
	)

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)

	data := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":   {c.clientID},
		"device_code": {dc.DeviceCode},
	}

	for {
		if err := c.sleep(ctx, interval); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("sign-in prompt expired: %w", ErrPromptDenied)
		}

		tok, oauthCode, err := c.postTokenRequest(ctx, data, scopes)
		if err == nil {
			c.storeSession(c.signedInAccount(tok), tok)
			return tok, nil
		}

		switch oauthCode {
		case "authorization_pending":
		case "slow_down":
			interval += 5 * time.Second
		case "authorization_declined", "access_denied":
			return nil, fmt.Errorf("user declined sign-in: %w", ErrPromptDenied)
		case "expired_token":
			return nil, fmt.Errorf("sign-in prompt expired: %w", ErrPromptDenied)
		default:
			return nil, err
		}
	}
}

// storeSession keeps the newest refresh token for the account so later
// silent acquisitions keep working.
func (c *Client) storeSession(account string, tok *Token) {
	if account == "" || tok.RefreshToken == "" {
		return
	}
	c.mu.Lock()
	c.sessions[sessionKey(account)] = tok.RefreshToken
	c.mu.Unlock()
}

// signedInAccount determines which account completed an interactive
// sign-in: the token's own principal claim when present, otherwise the
// account this client was seeded with.
func (c *Client) signedInAccount(tok *Token) string {
	if principal := tokenPrincipal(tok.AccessToken); principal != "" {
		return principal
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// tokenPrincipal extracts the signed-in principal from the access token's
// claims. The token is this client's own credential and the result only
// keys the local session store, so the signature is not verified here.
func tokenPrincipal(accessToken string) string {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	for _, key := range []string{"preferred_username", "upn", "email"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// sessionKey normalizes account addresses for session-store lookups.
func sessionKey(account string) string {
	return strings.ToLower(account)
}

// deviceCodeResponse is the device authorization endpoint response.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

// requestDeviceCode starts a device-code authorization.
func (c *Client) requestDeviceCode(ctx context.Context, scopes []string) (*deviceCodeResponse, error) {
	data := url.Values{
		"client_id": {c.clientID},
		"scope":     {strings.Join(scopes, " ")},
	}

	body, err := c.postForm(ctx, c.deviceCodeURL, data)
	if err != nil {
		return nil, err
	}

	var dc deviceCodeResponse
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, fmt.Errorf("failed to parse device code response: %w", err)
	}
	if dc.DeviceCode == "" {
		return nil, fmt.Errorf("device code response missing device_code")
	}
	return &dc, nil
}

// tokenEndpointResponse is the token endpoint success body.
type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// tokenEndpointError is the token endpoint error body.
type tokenEndpointError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postTokenRequest posts to the token endpoint and returns either a token
// or the OAuth error code alongside the error.
func (c *Client) postTokenRequest(ctx context.Context, data url.Values, scopes []string) (*Token, string, error) {
	body, err := c.postForm(ctx, c.tokenURL, data)
	if err != nil {
		return nil, "", err
	}

	var errResp tokenEndpointError
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return nil, errResp.Error, fmt.Errorf("token endpoint error %s: %s", errResp.Error, errResp.ErrorDescription)
	}

	var tokResp tokenEndpointResponse
	if err := json.Unmarshal(body, &tokResp); err != nil {
		return nil, "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokResp.AccessToken == "" {
		return nil, "", fmt.Errorf("token response missing access_token")
	}

	return &Token{
		AccessToken:  tokResp.AccessToken,
		RefreshToken: tokResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokResp.ExpiresIn) * time.Second),
		Scopes:       scopes,
	}, "", nil
}

// postForm posts a form-encoded request and returns the raw response body.
// Token endpoints report OAuth errors with non-2xx statuses and a JSON
// body, so the status alone is not treated as failure here.
func (c *Client) postForm(ctx context.Context, u string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	return body, nil
}

// interactionRequiredCode reports whether an OAuth error code means the
// session cannot be used silently and the user must sign in again.
func interactionRequiredCode(code string) bool {
	switch code {
	case "invalid_grant", "interaction_required", "login_required", "consent_required":
		return true
	}
	return false
}

// sleepWithContext waits for the specified duration or until the context is
// cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
