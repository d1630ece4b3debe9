package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/cmd/trader/internal/api"
	"github.com/davin77/binotrade/cmd/trader/internal/bridge"
	"github.com/davin77/binotrade/cmd/trader/internal/candles"
	"github.com/davin77/binotrade/cmd/trader/internal/export"
	"github.com/davin77/binotrade/cmd/trader/internal/orders"
	"github.com/davin77/binotrade/cmd/trader/internal/rategate"
	"github.com/davin77/binotrade/cmd/trader/internal/stream"
	"github.com/davin77/binotrade/cmd/trader/internal/terminal"
	"github.com/davin77/binotrade/cmd/trader/internal/timesync"
	"github.com/davin77/binotrade/pkg/config"
	"github.com/davin77/binotrade/pkg/models"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.App)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	volumeMode, _ := models.ParseVolumeMode(cfg.Stream.VolumeMode)

	// Market data pipeline: time sync, candle store, aggregating session.
	tsync := timesync.New(timesync.RealClock{})
	store := candles.NewStore()
	agg := candles.NewAggregator(store, volumeMode)
	subs := stream.NewSubscriptionSet()
	for _, symbol := range cfg.Stream.Symbols {
		subs.Add(symbol, cfg.Stream.Periods...)
	}
	session := stream.NewSession(
		cfg.Stream.URL,
		stream.WsDialer{},
		tsync,
		agg,
		subs,
		time.Duration(cfg.Stream.ReconnectDelayMs)*time.Millisecond,
		timesync.RealClock{},
		logger,
	)

	// Order pipeline: rate gate, tracker, order-channel bridge.
	gate := rategate.New(time.Duration(cfg.Orders.DealDelayMs) * time.Millisecond)
	account := bridge.NewAccount()

	var termServer *terminal.Server
	tracker := orders.NewTracker(tsync, logger, func(bet models.Bet) {
		logger.Info("bet transition",
			zap.Uint64("bet_id", bet.ID),
			zap.String("symbol", bet.Symbol),
			zap.String("status", bet.Status.String()))
		if termServer != nil {
			termServer.NotifyBet(bet)
		}
	})

	orderBridge := bridge.New(
		cfg.Orders,
		stream.WsDialer{},
		tracker,
		tsync,
		gate,
		account,
		time.Duration(cfg.Stream.ReconnectDelayMs)*time.Millisecond,
		logger,
	)

	// Terminal endpoint for contract requests and status pushes.
	termServer = terminal.NewServer(orderBridge, cfg.Orders.Demo, logger)
	session.AddListener(connectionRelay{terminal: termServer, bridge: orderBridge})
	orderBridge.OnConnection(func(bool) {
		termServer.NotifyConnection(session.State() == stream.StateOpen && orderBridge.Connected())
	})

	// Optional exporters.
	var snapshot *export.SnapshotPublisher
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		snapshot = export.NewSnapshotPublisher(rdb, logger)
		session.AddListener(snapshot)
	}
	var barExporter *export.BarExporter
	if cfg.Kafka.Enabled {
		writer := export.NewBarWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		barExporter = export.NewBarExporter(writer, logger)
		session.AddListener(barExporter)
	}

	session.Start()
	orderBridge.Start()

	// Local servers: terminal websocket and the read API.
	termMux := http.NewServeMux()
	termMux.HandleFunc("/", termServer.Handler)
	termSrv := &http.Server{Addr: cfg.Terminal.Addr, Handler: termMux}
	go func() {
		logger.Info("terminal server started", zap.String("addr", cfg.Terminal.Addr))
		if err := termSrv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("terminal server error", zap.Error(err))
		}
	}()

	handler := api.NewHandler(store, account, session, logger)
	apiSrv := &http.Server{Addr: cfg.App.Port, Handler: handler.Router()}
	go func() {
		logger.Info("read api started", zap.String("addr", cfg.App.Port))
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("read api error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiSrv.Shutdown(ctx)
	termSrv.Shutdown(ctx)

	session.Close()
	orderBridge.Close()
	tracker.Close()
	termServer.Close()
	if snapshot != nil {
		snapshot.Close()
	}
	if barExporter != nil {
		barExporter.Close()
	}
	logger.Info("shutdown complete")
}

// connectionRelay feeds quote stream connectivity into the terminal status
// push, which reports up only when both broker links are open.
type connectionRelay struct {
	terminal *terminal.Server
	bridge   *bridge.Bridge
}

func (r connectionRelay) OnTick(models.Tick)    {}
func (r connectionRelay) OnBar(models.BarEvent) {}

func (r connectionRelay) OnConnection(connected bool) {
	r.terminal.NotifyConnection(connected && r.bridge.Connected())
}
