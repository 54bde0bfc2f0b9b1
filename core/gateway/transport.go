package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Transport abstracts one physical client connection so the registry can be
// exercised without a live WebSocket.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// wsTransport wraps a gorilla connection. Writes are serialized: gorilla
// connections allow at most one concurrent writer.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport adapts a websocket connection to the Transport interface.
func NewWSTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
