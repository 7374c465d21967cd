package eventbus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// WebSocketTransport dials the event server over a WebSocket carrying JSON envelopes.
type WebSocketTransport struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
}

// NewWebSocketTransport returns a transport for url authenticated with token.
func NewWebSocketTransport(url, token string, handshakeTimeout time.Duration) *WebSocketTransport {
	return &WebSocketTransport{URL: url, Token: token, HandshakeTimeout: handshakeTimeout}
}

// Dial opens a connection.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.HandshakeTimeout,
	}
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake %s: %s: %w", t.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", t.URL, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Send(ctx context.Context, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()
	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
