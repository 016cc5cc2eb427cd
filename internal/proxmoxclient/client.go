// Package proxmoxclient is the Cluster Client Registry (C1): one
// authenticated HTTP client per configured Proxmox VE cluster, plus the
// REST operations the rest of the orchestrator needs (inventory
// enumeration, cloning, snapshots, guest-agent queries, VNC tickets).
//
// The request/ticket-auth plumbing follows PVE's own ticket-cookie and
// CSRF-token authentication contract.
package proxmoxclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
)

// ClientConfig configures a single cluster's authenticated client.
type ClientConfig struct {
	ClusterID string
	Host      string // host:port, no scheme
	User      string // user@realm
	Password  string
	VerifyTLS bool
	Timeout   time.Duration
}

// Client is an authenticated Proxmox VE API client for one cluster.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        ClientConfig

	mu        sync.Mutex
	user      string
	realm     string
	ticket    string
	csrf      string
	expiresAt time.Time
}

// NewClient authenticates against one cluster and returns a ready client.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	parts := strings.SplitN(cfg.User, "@", 2)
	if len(parts) != 2 {
		return nil, apierr.InvalidInputf("cluster user must be user@realm, got %q", cfg.User)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:    "https://" + strings.TrimSuffix(cfg.Host, "/") + "/api2/json",
		httpClient: newHTTPClient(cfg.VerifyTLS, cfg.Timeout),
		cfg:        cfg,
		user:       parts[0],
		realm:      parts[1],
	}

	if err := c.authenticate(ctx); err != nil {
		return nil, apierr.ClusterUnreachablef(err, "authenticating to cluster %s", cfg.ClusterID)
	}
	return c, nil
}

func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{
		"username": {c.user + "@" + c.realm},
		"password": {c.cfg.Password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/access/ticket", strings.NewReader(form.Encode()))
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
		return fmt.Errorf("authentication failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data struct {
			Ticket              string `json:"ticket"`
			CSRFPreventionToken string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}

	c.mu.Lock()
	c.ticket = result.Data.Ticket
	c.csrf = result.Data.CSRFPreventionToken
	c.expiresAt = time.Now().Add(2 * time.Hour)
	c.mu.Unlock()

	return nil
}

// request performs one authenticated API call, re-authenticating first if
// the ticket has expired.
func (c *Client) request(ctx context.Context, method, path string, form url.Values) (*http.Response, error) {
	c.mu.Lock()
	expired := time.Now().After(c.expiresAt)
	c.mu.Unlock()
	if expired {
		if err := c.authenticate(ctx); err != nil {
			return nil, apierr.ClusterUnreachablef(err, "re-authenticating to cluster %s", c.cfg.ClusterID)
		}
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.Lock()
	ticket, csrf := c.ticket, c.csrf
	c.mu.Unlock()
	req.Header.Set("Cookie", "PVEAuthCookie="+ticket)
	if method != http.MethodGet {
		req.Header.Set("CSRFPreventionToken", csrf)
	}

	resp, err := c.retryingDo(req)
	if err != nil {
		return nil, apierr.ClusterUnreachablef(err, "calling %s %s on cluster %s", method, path, c.cfg.ClusterID)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == 401 || resp.StatusCode == 403 || resp.StatusCode == 595 {
			return nil, apierr.ClusterUnreachablef(fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
				"authentication error calling cluster %s", c.cfg.ClusterID)
		}
		return nil, fmt.Errorf("proxmox API error %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// retryingDo retries idempotent (GET) requests up to 3 times with a 0.3x
// exponential backoff factor.
func (c *Client) retryingDo(req *http.Request) (*http.Response, error) {
	const maxAttempts = 3
	const backoffFactor = 300 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffFactor * time.Duration(1<<uint(attempt-1)))
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Method != http.MethodGet {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	return c.request(ctx, http.MethodPost, path, form)
}

func (c *Client) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.request(ctx, http.MethodDelete, path, nil)
}

func decodeData(resp *http.Response, out any) error {
	defer resp.Body.Close()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func logDebug(action string, fields map[string]any) {
	ev := log.Debug().Str("component", "proxmoxclient").Str("action", action)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("proxmox api call")
}
