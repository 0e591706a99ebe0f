package providers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn and
// types.Pinger.
type fasthttpConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration
}

func newFastHTTPConn(conn *websocket.Conn, writeTimeout, pongWait time.Duration, maxBytes int64) *fasthttpConn {
	if maxBytes > 0 {
		conn.SetReadLimit(maxBytes)
	}
	fc := &fasthttpConn{conn: conn, writeTimeout: writeTimeout, pongWait: pongWait}
	fc.extendRead()
	conn.SetPongHandler(func(string) error {
		fc.extendRead()
		return nil
	})
	return fc
}

func (f *fasthttpConn) extendRead() {
	if f.pongWait > 0 {
		_ = f.conn.SetReadDeadline(time.Now().Add(f.pongWait))
	}
}

func (f *fasthttpConn) WriteJSON(v any) error {
	if f.writeTimeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}
	return f.conn.WriteJSON(v)
}

func (f *fasthttpConn) ReadJSON(v any) error {
	_, data, err := f.conn.ReadMessage()
	if err != nil {
		return err
	}
	f.extendRead()
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedFrame, err)
	}
	return nil
}

func (f *fasthttpConn) Ping() error {
	return f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.writeTimeout))
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
