// Package terminal exposes the local websocket endpoint trading terminals
// connect to. Terminals post contract requests and receive connection status
// and bet transition pushes.
package terminal

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/pkg/models"
)

// Trader places bets on behalf of terminals. Implemented by the order
// channel bridge.
type Trader interface {
	SubmitBet(symbol string, amount float64, direction models.Direction, duration int64, isDemo bool, note string) (models.Bet, error)
}

// session is the server's view of one connected terminal.
type session interface {
	id() string
	sendJSON(v interface{})
	sendBytes(b []byte)
	close()
}

// Server tracks connected terminal clients and fans pushed frames out to all
// of them. Each contract request is forwarded to the Trader with the
// account type configured at startup.
type Server struct {
	trader Trader
	logger *zap.Logger
	isDemo bool

	mu      sync.Mutex
	clients map[session]bool

	// last broadcast connection state, replayed to new clients
	connected bool
}

func NewServer(trader Trader, isDemo bool, logger *zap.Logger) *Server {
	return &Server{
		trader:  trader,
		logger:  logger,
		isDemo:  isDemo,
		clients: make(map[session]bool),
	}
}

// Handler upgrades an HTTP request to a terminal websocket session.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	client := newClient(conn, s, s.logger)

	s.mu.Lock()
	s.clients[client] = true
	connected := s.connected
	s.mu.Unlock()

	client.start()
	client.sendJSON(ConnectionStatus{Connection: boolToInt(connected)})
	s.logger.Info("terminal connected", zap.String("remote", client.id()))
}

func (s *Server) unregister(client session) {
	s.mu.Lock()
	if s.clients[client] {
		delete(s.clients, client)
		client.close()
	}
	s.mu.Unlock()
	s.logger.Info("terminal disconnected", zap.String("remote", client.id()))
}

func (s *Server) handleRequest(client session, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		client.sendJSON(ErrorResponse{Type: "error", Message: "invalid JSON"})
		return
	}

	switch {
	case req.Contract != nil:
		s.handleContract(client, *req.Contract)
	case req.Ping != nil:
		client.sendJSON(map[string]int{"pong": 1})
	case req.Pong != nil:
		// Terminals answer our pings; nothing to do.
	default:
		client.sendJSON(ErrorResponse{Type: "error", Message: "unknown request"})
	}
}

func (s *Server) handleContract(client session, req ContractRequest) {
	var direction models.Direction
	switch req.Direction {
	case "BUY":
		direction = models.Buy
	case "SELL":
		direction = models.Sell
	}

	bet, err := s.trader.SubmitBet(req.Symbol, req.Amount, direction, req.Duration, s.isDemo, req.Note)
	if err != nil {
		s.logger.Warn("contract rejected",
			zap.String("symbol", req.Symbol),
			zap.String("remote", client.id()),
			zap.Error(err))
		client.sendJSON(ErrorResponse{Type: "error", Message: err.Error()})
		return
	}
	s.logger.Info("contract accepted",
		zap.Uint64("bet_id", bet.ID),
		zap.String("symbol", bet.Symbol),
		zap.String("direction", bet.Direction.String()),
		zap.Float64("amount", bet.Amount))
}

// NotifyConnection pushes the broker link state to every terminal and
// records it for replay to terminals that connect later.
func (s *Server) NotifyConnection(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
	s.Broadcast(ConnectionStatus{Connection: boolToInt(connected)})
}

// NotifyBet pushes a bet transition to every terminal.
func (s *Server) NotifyBet(bet models.Bet) {
	s.Broadcast(BetUpdate{Bet: betPayload{
		ID:         bet.ID,
		Symbol:     bet.Symbol,
		Direction:  bet.Direction.String(),
		Amount:     bet.Amount,
		Status:     bet.Status.String(),
		OpenPrice:  bet.OpenPrice,
		ClosePrice: bet.ClosePrice,
		Payout:     bet.Payout,
		Profit:     bet.Profit,
		Note:       bet.Note,
	}})
}

// Broadcast sends one frame to every connected terminal.
func (s *Server) Broadcast(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.sendBytes(b)
	}
}

// Close disconnects every terminal.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		delete(s.clients, client)
		client.close()
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
