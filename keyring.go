package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "streamchat"
	keyringPrefix  = "token_"
)

// TokenData is what gets stored per server.
type TokenData struct {
	AccessToken string    `json:"access_token"`
	Username    string    `json:"username,omitempty"`
	Server      string    `json:"server"`
	SavedAt     time.Time `json:"saved_at"`
}

// keyringKey identifies a server by host so that http and https URLs of
// the same host share a credential.
func keyringKey(serverURL string) string {
	host := strings.TrimSpace(serverURL)
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Host
	}
	return keyringPrefix + strings.ToLower(host)
}

// SaveTokenToKeyring securely stores the access token in the OS keyring.
func SaveTokenToKeyring(serverURL, accessToken, username string) error {
	data := TokenData{
		AccessToken: accessToken,
		Username:    username,
		Server:      serverURL,
		SavedAt:     time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	if err := keyring.Set(keyringService, keyringKey(serverURL), string(jsonData)); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// GetTokenFromKeyring retrieves the stored token for serverURL. A missing
// entry returns nil without error.
func GetTokenFromKeyring(serverURL string) (*TokenData, error) {
	jsonData, err := keyring.Get(keyringService, keyringKey(serverURL))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to retrieve token from keyring: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return &data, nil
}

// DeleteTokenFromKeyring removes the stored token for serverURL.
func DeleteTokenFromKeyring(serverURL string) error {
	err := keyring.Delete(keyringService, keyringKey(serverURL))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

// ResolveToken picks the access token for a run: an explicit token from
// config or environment wins over the keyring.
func ResolveToken(cfg *Config) (string, error) {
	if cfg.Auth.Token != "" {
		return cfg.Auth.Token, nil
	}
	data, err := GetTokenFromKeyring(cfg.Server.URL)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", nil
	}
	return data.AccessToken, nil
}
