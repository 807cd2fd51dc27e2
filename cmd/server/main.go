package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/chat-relay/internal/chat"
	"github.com/omochice/chat-relay/internal/logger"
	"github.com/omochice/chat-relay/internal/server"
)

func main() {
	cfg := chat.DefaultConfig()
	logCfg := logger.DefaultConfig()

	addr := flag.String("addr", ":8080", "TCP listen address")
	wsAddr := flag.String("ws-addr", "", "WebSocket listen address (empty disables WebSocket)")
	flag.BoolVar(&cfg.HeartbeatEnabled, "heartbeat", cfg.HeartbeatEnabled, "Enable ping/pong liveness checks")
	flag.DurationVar(&cfg.HeartbeatInterval, "ping-interval", cfg.HeartbeatInterval, "Interval between PING emissions")
	flag.DurationVar(&cfg.PongTimeout, "pong-timeout", cfg.PongTimeout, "How long to wait for PONG (must be less than ping interval)")
	flag.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "Maximum unterminated input per connection in bytes")
	flag.StringVar(&logCfg.Level, "log-level", logCfg.Level, "Log level (debug, info, warn, error)")
	flag.BoolVar(&logCfg.JSON, "log-json", logCfg.JSON, "Log raw JSON instead of console output")
	flag.StringVar(&logCfg.File, "log-file", logCfg.File, "Rotating log file path (empty disables file output)")
	flag.Parse()

	log := logger.New(logCfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	srv := server.New(*addr, *wsAddr, cfg, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}
}
