package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - метрики Prometheus серверной стороны.
// Используется собственный prometheus.Registry, чтобы тесты могли
// создавать несколько серверов в одном процессе без конфликтов
// регистрации коллекторов.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsTotal     prometheus.Counter
	PairsTotal        prometheus.Counter
	EvictionsTotal    prometheus.Counter
	HandshakeRejected *prometheus.CounterVec
	RelayPackets      prometheus.Counter
	RelayBytes        prometheus.Counter
	RelayDropped      prometheus.Counter
}

// NewMetrics создает и регистрирует все коллекторы.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "comms_sessions_active",
			Help: "Текущее количество зарегистрированных сессий",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "comms_sessions_total",
			Help: "Всего принятых сессий с момента запуска",
		}),
		PairsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "comms_pairs_total",
			Help: "Всего собранных пар сессий",
		}),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "comms_evictions_total",
			Help: "Сессии, закрытые sweep по таймауту heartbeat",
		}),
		HandshakeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "comms_handshake_rejected_total",
			Help: "Отклоненные рукопожатия по причинам",
		}, []string{"reason"}),
		RelayPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "comms_relay_packets_total",
			Help: "Медиа пакеты, пересланные релеем",
		}),
		RelayBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "comms_relay_bytes_total",
			Help: "Байты медиа, пересланные релеем",
		}),
		RelayDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "comms_relay_dropped_total",
			Help: "Датаграммы, отброшенные релеем (нет пары или невалидный размер)",
		}),
	}
}

// Registry возвращает реестр для promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
