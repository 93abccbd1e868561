// Команда commsd запускает сервер: контрольный WebSocket эндпоинт,
// реестр сессий с подбором пар и UDP релей медиа пакетов.
//
// Конфигурация через переменные окружения:
//
//	COMMS_CONTROL_ADDR      адрес контрольного листенера (по умолчанию :8888)
//	COMMS_MEDIA_ADDR        адрес UDP релея (по умолчанию :9999)
//	COMMS_CAPACITY          максимум одновременных сессий (10)
//	COMMS_HEARTBEAT_TIMEOUT таймаут тишины до вытеснения (120s)
//	COMMS_SWEEP_INTERVAL    период проверки таймаутов (10s)
//	COMMS_LOG_LEVEL         уровень логирования (info)
//	COMMS_LOG_PRETTY        человекочитаемый вывод вместо JSON (false)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"github.com/Leaseback/commsProject/pkg/server"
)

type appConfig struct {
	ControlAddr      string        `env:"COMMS_CONTROL_ADDR, default=:8888"`
	MediaAddr        string        `env:"COMMS_MEDIA_ADDR, default=:9999"`
	Capacity         int           `env:"COMMS_CAPACITY, default=10"`
	HeartbeatTimeout time.Duration `env:"COMMS_HEARTBEAT_TIMEOUT, default=120s"`
	SweepInterval    time.Duration `env:"COMMS_SWEEP_INTERVAL, default=10s"`
	LogLevel         string        `env:"COMMS_LOG_LEVEL, default=info"`
	LogPretty        bool          `env:"COMMS_LOG_PRETTY, default=false"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("Ошибка чтения конфигурации")
	}

	logger := newLogger(cfg)

	srv := server.New(server.Config{
		ControlAddr:      cfg.ControlAddr,
		MediaAddr:        cfg.MediaAddr,
		Capacity:         cfg.Capacity,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		SweepInterval:    cfg.SweepInterval,
		Logger:           logger,
	})
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Ошибка запуска сервера")
	}

	<-ctx.Done()
	logger.Info().Msg("Получен сигнал остановки")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ошибка остановки сервера")
		os.Exit(1)
	}
}

func newLogger(cfg appConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
