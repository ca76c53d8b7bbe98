package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// ErrUnauthorized is wrapped by errors for 401 and 403 responses.
var ErrUnauthorized = errors.New("unauthorized")

const (
	loginPath  = "/api/login/"
	logoutPath = "/api/logout/"
	signupPath = "/api/signup/"
	mePath     = "/api/me/"

	httpTimeout  = 30 * time.Second
	maxErrorBody = 512
)

// User is the identity returned by /api/me/.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// LoginResult is what a successful login or signup yields.
type LoginResult struct {
	AccessToken string
	User        *User
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// apiClient is the cookie-credentialed HTTP client shared by the auth and
// admin clients.
type apiClient struct {
	base  *url.URL
	http  *http.Client
	token string
}

func newAPIClient(serverURL string) (*apiClient, error) {
	base, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", serverURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &apiClient{
		base: base,
		http: &http.Client{Jar: jar, Timeout: httpTimeout},
	}, nil
}

func (c *apiClient) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return c.base.ResolveReference(u), nil
}

func (c *apiClient) cookie(u *url.URL, name string) string {
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// do sends a JSON request and decodes a JSON response into out when out
// is non-nil. Non-2xx responses become *APIError.
func (c *apiClient) do(ctx context.Context, method, ref string, body any, header http.Header, out any) error {
	u, err := c.resolve(ref)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	slog.Debug("http.response", "method", method, "path", u.Path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", u.Path, err)
	}
	return nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(raw []byte) string {
	var fields map[string]any
	if json.Unmarshal(raw, &fields) == nil {
		for _, key := range []string{"detail", "error", "message", "non_field_errors"} {
			switch v := fields[key].(type) {
			case string:
				return v
			case []any:
				if len(v) > 0 {
					return fmt.Sprint(v[0])
				}
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

// AuthClient talks to the identity endpoints.
type AuthClient struct {
	api *apiClient
}

// NewAuthClient creates a client for serverURL with an empty cookie jar.
func NewAuthClient(serverURL string) (*AuthClient, error) {
	api, err := newAPIClient(serverURL)
	if err != nil {
		return nil, err
	}
	return &AuthClient{api: api}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *AuthClient) SetToken(token string) {
	c.api.token = token
}

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type loginResponse struct {
	Access string `json:"access"`
	Token  string `json:"token"`
	User   *User  `json:"user"`
}

func (r loginResponse) result() (*LoginResult, error) {
	token := r.Access
	if token == "" {
		token = r.Token
	}
	if token == "" {
		return nil, fmt.Errorf("server response carries no access token")
	}
	return &LoginResult{AccessToken: token, User: r.User}, nil
}

// Login authenticates and adopts the returned access token.
func (c *AuthClient) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var resp loginResponse
	if err := c.api.do(ctx, http.MethodPost, loginPath, credentials{Username: username, Password: password}, nil, &resp); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	res, err := resp.result()
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	c.SetToken(res.AccessToken)
	slog.Info("auth.logged_in", "username", username)
	return res, nil
}

// Signup creates an account and adopts the returned access token.
func (c *AuthClient) Signup(ctx context.Context, username, email, password string) (*LoginResult, error) {
	var resp loginResponse
	body := credentials{Username: username, Email: email, Password: password}
	if err := c.api.do(ctx, http.MethodPost, signupPath, body, nil, &resp); err != nil {
		return nil, fmt.Errorf("signup failed: %w", err)
	}
	res, err := resp.result()
	if err != nil {
		return nil, fmt.Errorf("signup failed: %w", err)
	}
	c.SetToken(res.AccessToken)
	slog.Info("auth.signed_up", "username", username)
	return res, nil
}

// Logout ends the server session and forgets the token.
func (c *AuthClient) Logout(ctx context.Context) error {
	err := c.api.do(ctx, http.MethodPost, logoutPath, nil, nil, nil)
	c.SetToken("")
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// Me fetches the current user, returning any failure.
func (c *AuthClient) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.api.do(ctx, http.MethodGet, mePath, nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CurrentUser fetches the current user. Any failure means nobody is
// logged in and yields nil.
func (c *AuthClient) CurrentUser(ctx context.Context) *User {
	user, err := c.Me(ctx)
	if err != nil {
		slog.Debug("auth.no_current_user", "error", err)
		return nil
	}
	return user
}
