package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

var errLoginRequired = errors.New("no valid token (login required)")

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "portal")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "portal")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveTokens(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func readTokens() (tokenFile, error) {
	var tf tokenFile
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tf, err
	}
	err = json.Unmarshal(b, &tf)
	return tf, err
}

// loadToken returns the stored access token while it is still valid.
func loadToken() (string, error) {
	tf, err := readTokens()
	if err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errLoginRequired
	}
	return tf.AccessToken, nil
}

// loadRefresh returns the stored refresh token regardless of access expiry.
func loadRefresh() (string, error) {
	tf, err := readTokens()
	if err != nil {
		return "", err
	}
	if tf.RefreshToken == "" {
		return "", errLoginRequired
	}
	return tf.RefreshToken, nil
}

func clearTokens() error {
	err := os.Remove(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// expiry prefers the server-reported epoch milliseconds, then the token's exp claim.
func expiry(token string, ms int64) time.Time {
	if ms > 0 {
		return time.UnixMilli(ms)
	}
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(token, &claims)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(5 * time.Minute)
}
