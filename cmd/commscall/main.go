// Команда commscall — демонстрационный клиент: регистрируется на
// сервере, дожидается пары и обменивается с ней звуком. Вместо захвата
// с микрофона отправляется тон, принимаемый звук измеряется по уровню.
//
// Конфигурация через переменные окружения:
//
//	COMMS_SERVER_URL   адрес контрольного канала (ws://127.0.0.1:8888/ws)
//	COMMS_RELAY_ADDR   адрес UDP релея сервера (127.0.0.1:9999)
//	COMMS_MEDIA_PORT   локальный UDP порт медиа (0 — эфемерный)
//	COMMS_TONE_FREQ    частота отправляемого тона в герцах (440)
//	COMMS_LOG_LEVEL    уровень логирования (info)
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"github.com/Leaseback/commsProject/pkg/media"
	"github.com/Leaseback/commsProject/pkg/session"
	"github.com/Leaseback/commsProject/pkg/transport"
	"github.com/Leaseback/commsProject/pkg/wire"
)

type appConfig struct {
	ServerURL string  `env:"COMMS_SERVER_URL, default=ws://127.0.0.1:8888/ws"`
	RelayAddr string  `env:"COMMS_RELAY_ADDR, default=127.0.0.1:9999"`
	MediaPort int     `env:"COMMS_MEDIA_PORT, default=0"`
	ToneFreq  float64 `env:"COMMS_TONE_FREQ, default=440"`
	LogLevel  string  `env:"COMMS_LOG_LEVEL, default=info"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("Ошибка чтения конфигурации")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Звонок завершился с ошибкой")
	}
}

func run(ctx context.Context, cfg appConfig, logger zerolog.Logger) error {
	// Медиа сокет открывается до рукопожатия: сервер должен узнать
	// фактический порт
	mediaTransport, err := transport.NewUDPTransport(transport.Config{
		LocalAddr:  net.JoinHostPort("", portString(cfg.MediaPort)),
		RemoteAddr: cfg.RelayAddr,
	})
	if err != nil {
		return err
	}
	defer mediaTransport.Close()
	mediaPort := mediaTransport.LocalAddr().(*net.UDPAddr).Port

	peerJoined := make(chan wire.PeerInfo, 1)
	peerLeft := make(chan struct{}, 1)

	client, err := session.NewClient(session.ClientConfig{
		ServerURL: cfg.ServerURL,
		MediaPort: mediaPort,
		Logger:    logger,
		OnPeerJoined: func(peer wire.PeerInfo) {
			select {
			case peerJoined <- peer:
			default:
			}
		},
		OnPeerLeft: func() {
			select {
			case peerLeft <- struct{}{}:
			default:
			}
		},
		OnTerminated: func(reason string) {
			logger.Warn().Str("reason", reason).Msg("Сессия завершена сервером")
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Dial(ctx); err != nil {
		return err
	}
	logger.Info().
		Str("session_id", client.SessionID()).
		Int("media_port", mediaPort).
		Msg("Зарегистрированы, ожидание пары")

	var peer wire.PeerInfo
	if existing := client.Peer(); existing != nil {
		peer = *existing
	} else {
		select {
		case peer = <-peerJoined:
		case <-client.Done():
			return session.ErrClosed
		case <-ctx.Done():
			return leave(client)
		}
	}
	logger.Info().
		Str("peer_host", peer.Host).
		Int("peer_port", peer.MediaPort).
		Msg("Пара подобрана, начинаем обмен звуком")

	sink := media.NewLevelSink()
	mediaSession, err := media.NewSession(media.SessionConfig{
		SSRC:      client.MediaSSRC(),
		PeerSSRC:  peer.SSRC,
		Transport: mediaTransport,
		Source:    media.NewToneSource(cfg.ToneFreq, 0.5),
		Sink:      sink,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := mediaSession.Start(); err != nil {
		return err
	}
	defer mediaSession.Stop()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := mediaSession.Statistics()
			logger.Info().
				Uint64("sent", stats.FramesSent).
				Uint64("played", stats.FramesPlayed).
				Uint64("gaps_filled", stats.JitterBuffer.GapsFilled).
				Float64("level", sink.Level()).
				Msg("Статистика звонка")

		case <-peerLeft:
			logger.Info().Msg("Пара покинула звонок")
			return leave(client)

		case <-client.Done():
			return nil

		case <-ctx.Done():
			return leave(client)
		}
	}
}

func leave(client *session.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Leave(ctx)
}

func portString(port int) string {
	if port <= 0 {
		return "0"
	}
	return strconv.Itoa(port)
}
