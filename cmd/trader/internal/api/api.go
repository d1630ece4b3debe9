// Package api exposes a small read-only HTTP surface over the candle store
// and account state, for dashboards and health probes.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/cmd/trader/internal/candles"
	"github.com/davin77/binotrade/cmd/trader/internal/instruments"
	"github.com/davin77/binotrade/cmd/trader/internal/stream"
	"github.com/davin77/binotrade/pkg/models"
)

const (
	defaultPeriod = 60
	defaultLimit  = 100
	maxLimit      = 1000
)

// BalanceSource reports the last known account balances.
type BalanceSource interface {
	Balance() (models.Balance, bool)
}

// StatusSource reports the quote stream connection state.
type StatusSource interface {
	State() stream.ConnState
}

type Handler struct {
	store   *candles.Store
	balance BalanceSource
	status  StatusSource
	logger  *zap.Logger
}

func NewHandler(store *candles.Store, balance BalanceSource, status StatusSource, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		balance: balance,
		status:  status,
		logger:  logger,
	}
}

// Router builds the gin engine with all routes attached.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", h.Health)
	r.GET("/price/:symbol", h.Price)
	r.GET("/candles/:symbol", h.Candles)
	r.GET("/balance", h.Balance)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"stream":    h.status.State().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Price(c *gin.Context) {
	symbol := instruments.Normalize(c.Param("symbol"))
	if _, ok := instruments.BySymbol(symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	price, ok := h.store.LatestPrice(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data for symbol"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

func (h *Handler) Candles(c *gin.Context) {
	symbol := instruments.Normalize(c.Param("symbol"))
	if _, ok := instruments.BySymbol(symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}

	period, err := strconv.ParseInt(c.DefaultQuery("period", strconv.Itoa(defaultPeriod)), 10, 64)
	if err != nil || period <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	bars := h.store.Recent(symbol, period, limit)
	c.JSON(http.StatusOK, gin.H{
		"symbol":  symbol,
		"period":  period,
		"candles": bars,
	})
}

func (h *Handler) Balance(c *gin.Context) {
	bal, ok := h.balance.Balance()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "balance not received yet"})
		return
	}
	c.JSON(http.StatusOK, bal)
}
