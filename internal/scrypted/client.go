// Package scrypted is a small client for the Scrypted NVR REST API.
package scrypted

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNoToken = errors.New("scrypted token not configured")

type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Room string `json:"room,omitempty"`
}

type Client struct {
	rc    *resty.Client
	token string
}

// New builds a client. hc may be nil; it is the place to plug in a proxied
// transport.
func New(baseURL, token string, hc *http.Client) *Client {
	var rc *resty.Client
	if hc != nil {
		rc = resty.NewWithClient(hc)
	} else {
		rc = resty.New().SetTimeout(30 * time.Second)
	}
	rc.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")

	return &Client{rc: rc, token: token}
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}
	return c.rc.R().SetContext(ctx).SetAuthToken(c.token), nil
}

func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out []Device
	resp, err := req.SetResult(&out).Get("/api/devices")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list devices: HTTP %d", resp.StatusCode())
	}
	return out, nil
}

// Snapshot returns the raw image bytes of the device's current frame.
func (c *Client) Snapshot(ctx context.Context, id string) ([]byte, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := req.SetHeader("Accept", "image/*").
		Get("/api/devices/" + url.PathEscape(id) + "/snapshot")
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("snapshot %s: HTTP %d", id, resp.StatusCode())
	}
	return resp.Body(), nil
}

// Arm reports false when the device does not exist and fails on any other
// HTTP error.
func (c *Client) Arm(ctx context.Context, id string) (bool, error) {
	req, err := c.request(ctx)
	if err != nil {
		return false, err
	}

	resp, err := req.Post("/api/devices/" + url.PathEscape(id) + "/arm")
	if err != nil {
		return false, fmt.Errorf("arm %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, fmt.Errorf("arm %s: HTTP %d", id, resp.StatusCode())
	}
	return true, nil
}
