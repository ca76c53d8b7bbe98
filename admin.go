package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrMissingCSRF is returned when no csrftoken cookie has been issued for
// the action URL.
var ErrMissingCSRF = errors.New("missing csrf cookie")

const (
	csrfCookie = "csrftoken"
	csrfHeader = "X-CSRFToken"
)

// AdminAction names one of the admin panel actions.
type AdminAction string

const (
	ActionDisableMFA     AdminAction = "disable-mfa"
	ActionRevokeSessions AdminAction = "revoke-sessions"
	ActionStopGeneration AdminAction = "stop-generation"
)

// AdminClient posts admin panel actions. It shares the cookie jar of the
// AuthClient it was created from, so it acts as the logged-in user.
type AdminClient struct {
	api *apiClient
}

// NewAdminClient creates an admin client on top of auth.
func NewAdminClient(auth *AuthClient) *AdminClient {
	return &AdminClient{api: auth.api}
}

// Run posts action to actionURL. Success is any 2xx status; the body is
// ignored.
func (c *AdminClient) Run(ctx context.Context, action AdminAction, actionURL string) error {
	u, err := c.api.resolve(actionURL)
	if err != nil {
		return err
	}
	token := c.api.cookie(u, csrfCookie)
	if token == "" {
		return fmt.Errorf("%s: %w", action, ErrMissingCSRF)
	}

	header := http.Header{}
	header.Set(csrfHeader, token)
	header.Set("Referer", c.api.base.String())

	if err := c.api.do(ctx, http.MethodPost, u.String(), nil, header, nil); err != nil {
		return fmt.Errorf("%s failed: %w", action, err)
	}
	slog.Info("admin.action", "action", string(action), "url", u.Path)
	return nil
}

// DisableMFA turns off multi-factor auth for the user behind actionURL.
func (c *AdminClient) DisableMFA(ctx context.Context, actionURL string) error {
	return c.Run(ctx, ActionDisableMFA, actionURL)
}

// RevokeSessions logs the user behind actionURL out everywhere.
func (c *AdminClient) RevokeSessions(ctx context.Context, actionURL string) error {
	return c.Run(ctx, ActionRevokeSessions, actionURL)
}

// StopGeneration cancels a pending reply generation.
func (c *AdminClient) StopGeneration(ctx context.Context, actionURL string) error {
	return c.Run(ctx, ActionStopGeneration, actionURL)
}
