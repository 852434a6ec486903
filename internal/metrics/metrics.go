// Package metrics - Prometheus метрики сервиса.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты подключения MT5 счёта
const (
	ResultSuccess          = "success"
	ResultDegraded         = "degraded" // подключено, но опрос провайдера не дождался готовности
	ResultAlreadyConnected = "already_connected"
	ResultNotConfigured    = "not_configured"
	ResultDeployFailed     = "deploy_failed"
	ResultError            = "error"
)

// ============ Подключение MT5 ============

// MT5ConnectTotal - исходы операции connect
var MT5ConnectTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algoedge",
		Subsystem: "mt5",
		Name:      "connect_total",
		Help:      "MT5 connect attempts by result",
	},
	[]string{"result"},
)

// MT5ConnectDuration - полное время connect
var MT5ConnectDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "algoedge",
		Subsystem: "mt5",
		Name:      "connect_duration_seconds",
		Help:      "Wall time of MT5 connect requests",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
	},
)

// PollAttempts - проверки состояния у провайдера по стадиям (deploy, connect, provision, balance)
var PollAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algoedge",
		Subsystem: "mt5",
		Name:      "poll_attempts_total",
		Help:      "Provider state checks performed while polling",
	},
	[]string{"stage"},
)

// PollExhausted - стадия закончилась без подтверждения готовности
var PollExhausted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algoedge",
		Subsystem: "mt5",
		Name:      "poll_exhausted_total",
		Help:      "Polling stages that ran out of attempts or budget",
	},
	[]string{"stage"},
)

// ============ Внешние вызовы ============

// ProviderRequestDuration - латентность запросов к MetaAPI
var ProviderRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "algoedge",
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "MetaAPI request latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"operation", "status"},
)

// ============ HTTP ============

// HTTPRequestDuration - латентность входящих запросов
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "algoedge",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Inbound HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "status"},
)

// WebSocketClients - число подключённых клиентов потока событий
var WebSocketClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "algoedge",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected websocket clients",
	},
)

// ============ Хелперы ============

// RecordConnect фиксирует исход и длительность connect
func RecordConnect(result string, d time.Duration) {
	MT5ConnectTotal.WithLabelValues(result).Inc()
	MT5ConnectDuration.Observe(d.Seconds())
}

// RecordPollAttempt фиксирует одну проверку состояния
func RecordPollAttempt(stage string) {
	PollAttempts.WithLabelValues(stage).Inc()
}

// RecordPollExhausted фиксирует неподтверждённую стадию
func RecordPollExhausted(stage string) {
	PollExhausted.WithLabelValues(stage).Inc()
}

// RecordProviderRequest фиксирует запрос к провайдеру. status 0 - сетевая ошибка.
func RecordProviderRequest(operation string, status int, d time.Duration) {
	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	ProviderRequestDuration.WithLabelValues(operation, label).Observe(d.Seconds())
}

// RecordHTTPRequest фиксирует обработанный входящий запрос
func RecordHTTPRequest(method string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}
