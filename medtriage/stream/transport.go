package stream

import (
	"context"

	"github.com/coder/websocket"
)

// WSTransport adapts a coder/websocket connection to the Transport interface.
type WSTransport struct {
	conn *websocket.Conn
}

func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

func (t *WSTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *WSTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
