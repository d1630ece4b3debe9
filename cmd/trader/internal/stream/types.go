package stream

import (
	"github.com/fasthttp/websocket"

	"github.com/davin77/binotrade/pkg/models"
)

// ConnState is the single connection lifecycle value; every transition goes
// through Session.setState so inconsistent flag combinations cannot exist.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	case StateTerminated:
		return "terminated"
	}
	return "invalid"
}

// Listener receives the typed events a session produces. All callbacks for
// one session are invoked sequentially from its dispatch goroutine, so
// per-connection tick order is preserved; they must not block.
type Listener interface {
	OnTick(tick models.Tick)
	OnBar(event models.BarEvent)
	OnConnection(connected bool)
}

// Conn abstracts the websocket connection for deterministic testing.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer abstracts connection establishment.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// WsDialer adapts the fasthttp websocket dialer.
type WsDialer struct{}

func (WsDialer) Dial(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
