// Package client talks to a liveattend server over HTTP and websockets. A
// Client can stand in for the in-process coordinator in the teacher and
// student flows.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveattend/internal/api"
	"liveattend/internal/attendance"
	"liveattend/internal/common"
	"liveattend/internal/feed"
)

// Client is a remote attendance coordinator.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
	Watch   feed.WatchOptions

	mu       sync.RWMutex
	clientID string
	access   string
	refresh  string
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Register obtains tokens for role. An empty clientID lets the server pick one.
func (c *Client) Register(ctx context.Context, clientID, role string) (string, error) {
	var resp api.TokenResponse
	if err := c.call(ctx, http.MethodPost, "/v1/clients/register", api.RegisterRequest{ClientID: clientID, Role: role}, &resp, false); err != nil {
		return "", err
	}
	c.setTokens(resp)
	return resp.ClientID, nil
}

// ClientID returns the identity assigned at registration.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Client) setTokens(t api.TokenResponse) {
	c.mu.Lock()
	c.clientID = t.ClientID
	c.access = t.AccessToken
	c.refresh = t.RefreshToken
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

func (c *Client) renew(ctx context.Context) error {
	c.mu.RLock()
	rt := c.refresh
	c.mu.RUnlock()
	if rt == "" {
		return errUnauthorized
	}
	var resp api.TokenResponse
	if err := c.call(ctx, http.MethodPost, "/v1/clients/refresh", api.RefreshRequest{RefreshToken: rt}, &resp, false); err != nil {
		return err
	}
	c.setTokens(resp)
	return nil
}

var errUnauthorized = errors.New("client: unauthorized")

// StartSession opens a session. The server attributes it to the registered
// client id; createdBy is ignored.
func (c *Client) StartSession(ctx context.Context, _ string) (attendance.Session, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &resp); err != nil {
		return attendance.Session{}, err
	}
	if resp.Session == nil {
		return attendance.Session{}, errors.New("client: empty session in response")
	}
	return *resp.Session, nil
}

func (c *Client) StopSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/stop", nil, nil)
}

func (c *Client) ActiveSession(ctx context.Context) (*attendance.Session, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/active", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

func (c *Client) Session(ctx context.Context, id string) (attendance.Session, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &resp); err != nil {
		return attendance.Session{}, err
	}
	if resp.Session == nil {
		return attendance.Session{}, fmt.Errorf("%w: session %s", common.ErrNotFound, id)
	}
	return *resp.Session, nil
}

func (c *Client) MarkAttendance(ctx context.Context, sessionID, studentName string, verified bool) (attendance.Record, error) {
	var resp api.RecordResponse
	req := api.MarkRequest{StudentName: studentName, Verified: verified}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/records", req, &resp); err != nil {
		return attendance.Record{}, err
	}
	return resp.Record, nil
}

func (c *Client) Roster(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	var resp api.RosterResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID)+"/records", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// do runs an authenticated call, refreshing the access token once on 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.call(ctx, method, path, body, out, true)
	if !errors.Is(err, errUnauthorized) {
		return err
	}
	if rerr := c.renew(ctx); rerr != nil {
		return err
	}
	return c.call(ctx, method, path, body, out, true)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, authed bool) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.bearer())
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return common.Unavailable(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	var e api.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
	if sentinel := api.ErrorForCode(e.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, e.Error)
	}
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
		return common.Unavailable("server", fmt.Errorf("status %d", resp.StatusCode))
	}
	if e.Error == "" {
		e.Error = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("client: status %d: %s", resp.StatusCode, e.Error)
}
