package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"liveattend/internal/attendance"
	"liveattend/internal/feed"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

func (s *Server) streamActive(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn(c.Request.Context(), "websocket upgrade failed", "err", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	stream := s.coord.SubscribeActive(ctx)
	pump(ctx, cancel, conn, stream, func(snap feed.Snapshot[*attendance.Session]) any {
		return ActiveFrame{Session: snap.Value, Degraded: snap.Degraded, Error: errString(snap.Err)}
	})
}

func (s *Server) streamRoster(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.coord.Session(c.Request.Context(), sessionID); err != nil {
		s.fail(c, err)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn(c.Request.Context(), "websocket upgrade failed", "err", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	stream := s.coord.SubscribeRoster(ctx, sessionID)
	pump(ctx, cancel, conn, stream, func(snap feed.Snapshot[[]attendance.Record]) any {
		items := snap.Value
		if items == nil {
			items = []attendance.Record{}
		}
		return RosterFrame{Items: items, Degraded: snap.Degraded, Error: errString(snap.Err)}
	})
}

// pump writes every snapshot of stream to conn until either side goes away.
// It is the only writer on conn.
func pump[T any](ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, stream *feed.Stream[T], frame func(feed.Snapshot[T]) any) {
	defer conn.Close()
	defer stream.Close()
	defer cancel()

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case snap, ok := <-stream.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame(snap)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
