package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiError mirrors the server's error body.
type apiError struct {
	Message    string  `json:"message"`
	StatusCode int     `json:"statusCode"`
	Code       *string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, *e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

type tokens struct {
	Access     string `json:"access"`
	Refresh    string `json:"refresh"`
	Expiration int64  `json:"expiration"`
}

// client talks to the portal HTTP API.
type client struct {
	base   string
	bearer string
	origin string
	hc     *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		e := &apiError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(e); err != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return e
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) googleVerify(ctx context.Context, code string) (tokens, error) {
	var t tokens
	err := c.do(ctx, http.MethodPost, "/auth/google/verify", map[string]string{"code": code}, &t)
	return t, err
}

func (c *client) refresh(ctx context.Context, refresh string) (tokens, error) {
	var t tokens
	err := c.do(ctx, http.MethodPost, "/auth/refresh", map[string]string{"token": refresh}, &t)
	return t, err
}

func (c *client) me(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out)
	return out, err
}

func (c *client) logout(ctx context.Context, refresh string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", map[string]string{"refreshToken": refresh}, nil)
}

func (c *client) cacheGet(ctx context.Context, key string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/cache/"+url.PathEscape(key), nil, &out)
	return out, err
}

func (c *client) cacheFlush(ctx context.Context, pattern string) (map[string]any, error) {
	path := "/cache"
	if pattern != "" {
		path += "?pattern=" + url.QueryEscape(pattern)
	}
	var out map[string]any
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

func (c *client) cacheDelete(ctx context.Context, key string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodDelete, "/cache/"+url.PathEscape(key), nil, &out)
	return out, err
}
