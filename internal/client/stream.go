package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"liveattend/internal/api"
	"liveattend/internal/attendance"
	"liveattend/internal/common"
	"liveattend/internal/feed"
)

// SubscribeActive streams the server's active session. Lost connections are
// redialled; the gap shows up as degraded snapshots.
func (c *Client) SubscribeActive(ctx context.Context) *feed.Stream[*attendance.Session] {
	return feed.Follow(ctx, func(ctx context.Context, sink feed.Sink[*attendance.Session]) error {
		return follow(ctx, c, "/v1/ws/sessions/active", func(f api.ActiveFrame) {
			if f.Degraded {
				sink.Degrade(remoteError(f.Error))
				return
			}
			sink.Emit(f.Session)
		})
	}, c.Watch)
}

// SubscribeRoster streams the ordered roster of a session.
func (c *Client) SubscribeRoster(ctx context.Context, sessionID string) *feed.Stream[[]attendance.Record] {
	path := "/v1/ws/sessions/" + url.PathEscape(sessionID) + "/roster"
	return feed.Follow(ctx, func(ctx context.Context, sink feed.Sink[[]attendance.Record]) error {
		return follow(ctx, c, path, func(f api.RosterFrame) {
			if f.Degraded {
				sink.Degrade(remoteError(f.Error))
				return
			}
			sink.Emit(f.Items)
		})
	}, c.Watch)
}

func remoteError(msg string) error {
	if msg == "" {
		msg = "server feed degraded"
	}
	return common.Unavailable("remote feed", errors.New(msg))
}

func (c *Client) wsURL(path string) string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

// follow reads frames from one websocket connection until it breaks.
func follow[F any](ctx context.Context, c *Client, path string, handle func(F)) error {
	conn, resp, err := c.Dialer.DialContext(ctx, c.wsURL(path), http.Header{"Authorization": {"Bearer " + c.bearer()}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			if rerr := c.renew(ctx); rerr != nil {
				return rerr
			}
		}
		return common.Unavailable("dial "+path, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var frame F
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return common.Unavailable("read "+path, err)
		}
		handle(frame)
	}
}
