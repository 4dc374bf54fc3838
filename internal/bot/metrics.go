package bot

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Покрывают горячие точки цикла:
// - Длительность фаз тика (скан, выходы, исполнения)
// - Счетчики ордеров, входов, выходов, резолюций
// - Состояние риска (банкролл, экспозиция, просадка)
// - Здоровье подключения к потоку книг
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Метрики латентности ============

// TickPhaseLatency - длительность фаз торгового тика
// Buckets рассчитаны на REST-bound фазы (десятки мс - секунды)
var TickPhaseLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "tick_phase_latency_ms",
		Help:      "Duration of a trading tick phase in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"phase"}, // scan, exits, fills
)

// OrderSubmitLatency - время отправки ордера на биржу
var OrderSubmitLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "order_submit_latency_ms",
		Help:      "Time to submit an order to the venue in milliseconds",
		Buckets:   []float64{25, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"side"},
)

// FillWaitDuration - время ожидания исполнения входной пары
var FillWaitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "fill_wait_seconds",
		Help:      "Time spent waiting for order fills in seconds",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
	},
	[]string{"complete"}, // yes = все ордера терминальны, no = таймаут
)

// ============ Счетчики событий ============

// EventsProcessed - количество обработанных событий по типам
var EventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "events_processed_total",
		Help:      "Total number of processed events",
	},
	[]string{"type"}, // market_scanned, entry, exit, resolution, fill
)

// OrdersSubmitted - отправленные ордера по исходу отправки
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "orders_submitted_total",
		Help:      "Total number of order submissions",
	},
	[]string{"side", "outcome"}, // outcome: accepted, failed
)

// OrdersCancelled - отмененные ордера
var OrdersCancelled = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "orders_cancelled_total",
		Help:      "Total number of cancelled orders",
	},
)

// StraddlesTotal - события жизненного цикла позиций
var StraddlesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "straddles_total",
		Help:      "Straddle lifecycle events",
	},
	[]string{"result"}, // entered, exited, resolved_win, resolved_loss, leg_failed
)

// TickPanics - паники, пойманные на границе фазы тика
var TickPanics = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "tick_panics_total",
		Help:      "Panics recovered at tick phase boundaries",
	},
	[]string{"phase"},
)

// RealizedPnl - накопленный реализованный PNL.
// Gauge, а не Counter: убытки выхода приходят отрицательными.
var RealizedPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "realized_pnl_total",
		Help:      "Cumulative realized PnL",
	},
)

// ============ Метрики состояния ============

// ActivePositions - количество активных позиций по состояниям
var ActivePositions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "trading",
		Name:      "active_positions",
		Help:      "Number of active positions by state",
	},
	[]string{"state"}, // entered, exited
)

// Bankroll - текущий банкролл
var Bankroll = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "risk",
		Name:      "bankroll",
		Help:      "Current bankroll",
	},
)

// TotalExposure - суммарная долларовая экспозиция
var TotalExposure = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "risk",
		Name:      "total_exposure",
		Help:      "Total dollar exposure across active positions",
	},
)

// Drawdown - текущая просадка как доля начального банкролла
var Drawdown = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "risk",
		Name:      "drawdown_ratio",
		Help:      "Current drawdown as a fraction of the initial bankroll",
	},
)

// FeedConnected - статус подключения к потоку книг (1=connected)
var FeedConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "venue",
		Name:      "feed_connected",
		Help:      "Orderbook feed connection status (1=connected, 0=disconnected)",
	},
)

// BooksCached - количество срезов книг в кэше
var BooksCached = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "venue",
		Name:      "books_cached",
		Help:      "Number of orderbook snapshots in the in-memory cache",
	},
)

// MarketsScanned - принятые сканером рынки
var MarketsScanned = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "straddle",
		Subsystem: "venue",
		Name:      "markets_scanned_total",
		Help:      "Markets accepted by the catalog scanner",
	},
)

// ============ Метрики производительности ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "straddle",
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // notification, broadcast
)

// BufferUtilization - заполненность буферов каналов (0..1)
var BufferUtilization = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "runtime",
		Name:      "buffer_utilization",
		Help:      "Channel buffer fill ratio at last overflow check",
	},
	[]string{"buffer"},
)

// GoroutineCount - количество горутин
var GoroutineCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "straddle",
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	},
)

// ============ Вспомогательные функции ============

// RecordTickPhase записывает длительность фазы тика
func RecordTickPhase(phase string, latencyMs float64) {
	TickPhaseLatency.WithLabelValues(phase).Observe(latencyMs)
}

// RecordPhasePanic записывает панику, пойманную на границе фазы
func RecordPhasePanic(phase string) {
	TickPanics.WithLabelValues(phase).Inc()
}

// RecordOrderSubmit записывает исход отправки ордера
func RecordOrderSubmit(side string, accepted bool, latencyMs float64) {
	outcome := "failed"
	if accepted {
		outcome = "accepted"
	}
	OrdersSubmitted.WithLabelValues(side, outcome).Inc()
	OrderSubmitLatency.WithLabelValues(side).Observe(latencyMs)
}

// RecordOrderCancelled записывает отмену ордера
func RecordOrderCancelled() {
	OrdersCancelled.Inc()
}

// RecordFillWait записывает длительность ожидания исполнений
func RecordFillWait(seconds float64, complete bool) {
	label := "no"
	if complete {
		label = "yes"
	}
	FillWaitDuration.WithLabelValues(label).Observe(seconds)
}

// RecordStraddle записывает событие жизненного цикла позиции
func RecordStraddle(result string, pnl float64) {
	StraddlesTotal.WithLabelValues(result).Inc()
	if pnl != 0 {
		RealizedPnl.Add(pnl)
	}
}

// RecordEvent записывает обработанное событие
func RecordEvent(eventType string) {
	EventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordMarketsScanned записывает количество принятых рынков
func RecordMarketsScanned(count int) {
	if count > 0 {
		MarketsScanned.Add(float64(count))
	}
}

// UpdateActivePositions обновляет гейджи позиций по состояниям
func UpdateActivePositions(entered, exited int) {
	ActivePositions.WithLabelValues("entered").Set(float64(entered))
	ActivePositions.WithLabelValues("exited").Set(float64(exited))
}

// UpdateRiskGauges обновляет гейджи риска одним вызовом
func UpdateRiskGauges(status RiskStatus) {
	Bankroll.Set(status.Bankroll)
	TotalExposure.Set(status.TotalExposure)
	Drawdown.Set(status.Drawdown)
}

// RecordDrawdown обновляет гейдж просадки
func RecordDrawdown(dd float64) {
	Drawdown.Set(dd)
}

// UpdateFeedStatus обновляет статус потока книг
func UpdateFeedStatus(connected bool, cachedBooks int) {
	if connected {
		FeedConnected.Set(1)
	} else {
		FeedConnected.Set(0)
	}
	BooksCached.Set(float64(cachedBooks))
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferUtilization.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}

// UpdateGoroutineCount обновляет гейдж горутин
func UpdateGoroutineCount() {
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}
