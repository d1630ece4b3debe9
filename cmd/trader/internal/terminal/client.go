package terminal

import (
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const maxMessageSize = 64 * 1024

var _ session = (*Client)(nil)

// Client is one connected terminal. Writes go through a buffered send
// channel drained by writePump; when the buffer is full the frame is
// dropped rather than stalling the broadcaster.
type Client struct {
	conn   net.Conn
	server *Server
	send   chan []byte
	logger *zap.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newClient(conn net.Conn, server *Server, logger *zap.Logger) *Client {
	return &Client{
		conn:       conn,
		server:     server,
		send:       make(chan []byte, 256),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) id() string { return c.conn.RemoteAddr().String() }

// close only closes the channel; writePump owns the socket teardown.
func (c *Client) close() { close(c.send) }

func (c *Client) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err == nil {
		c.sendBytes(b)
	}
}

func (c *Client) sendBytes(b []byte) {
	select {
	case c.send <- b:
	default:
		// Slow terminal, drop the frame.
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("terminal frame too big", zap.Int64("size", header.Length))
			break
		}
		if !header.Fin {
			c.logger.Warn("terminal sent fragmented frame")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		if header.OpCode == ws.OpClose {
			break
		}
		if header.OpCode == ws.OpPong {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		}

		if header.OpCode == ws.OpText {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			c.server.handleRequest(c, payload)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
