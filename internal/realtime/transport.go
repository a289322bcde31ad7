package realtime

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// Conn is one open channel to a room.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens a Conn for a room. The production implementation speaks
// websocket to the room server; tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, roomCode string) (Conn, error)
}

// WebsocketDialer dials the room server's /ws endpoint.
type WebsocketDialer struct {
	// BaseURL is the server root, e.g. "ws://localhost:8080".
	BaseURL string
}

func (d WebsocketDialer) Dial(ctx context.Context, roomCode string) (Conn, error) {
	u := fmt.Sprintf("%s/ws?code=%s", d.BaseURL, url.QueryEscape(roomCode))
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "bye")
}
