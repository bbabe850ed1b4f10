package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
// Все методы безопасны для nil-получателя: сервис может работать без метрик.
type OrderMetrics struct {
	ordersCreated  prometheus.Counter
	createFailures *prometheus.CounterVec
	statusChanges  *prometheus.CounterVec
	statusNoops    prometheus.Counter
	paymentsPaid   prometheus.Counter
	duplicatePaid  prometheus.Counter
	sessions       *prometheus.CounterVec

	// Время удалённых вызовов по сервису и команде.
	remoteDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders persisted",
		}),
		createFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_create_failures_total",
			Help: "Total number of failed create workflows by error kind",
		}, []string{"kind"}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_status_changes_total",
			Help: "Total number of applied status transitions by target status",
		}, []string{"status"}),
		statusNoops: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_status_noop_total",
			Help: "Total number of status changes skipped because status did not change",
		}),
		paymentsPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_payments_finalized_total",
			Help: "Total number of payment confirmations applied to orders",
		}),
		duplicatePaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_payments_duplicate_total",
			Help: "Total number of payment confirmations skipped as duplicates",
		}),
		sessions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_payment_sessions_total",
			Help: "Total number of payment session requests by result",
		}, []string{"result"}),
		remoteDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_remote_call_duration_seconds",
			Help:    "Duration of calls to remote services in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"service", "command", "result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_events_total",
			Help: "Total number of events enqueued to outbox",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordCreateFailed учитывает неудачный create по виду ошибки.
func (m *OrderMetrics) RecordCreateFailed(kind string) {
	if m == nil {
		return
	}
	m.createFailures.WithLabelValues(kind).Inc()
}

// RecordStatusChanged учитывает применённую смену статуса.
func (m *OrderMetrics) RecordStatusChanged(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordStatusNoop учитывает смену статуса на тот же самый.
func (m *OrderMetrics) RecordStatusNoop() {
	if m == nil {
		return
	}
	m.statusNoops.Inc()
}

// RecordPaymentFinalized учитывает применённое подтверждение оплаты.
func (m *OrderMetrics) RecordPaymentFinalized() {
	if m == nil {
		return
	}
	m.paymentsPaid.Inc()
}

// RecordPaymentDuplicate учитывает пропущенное повторное подтверждение.
func (m *OrderMetrics) RecordPaymentDuplicate() {
	if m == nil {
		return
	}
	m.duplicatePaid.Inc()
}

// RecordPaymentSession учитывает запрос платёжной сессии.
func (m *OrderMetrics) RecordPaymentSession(ok bool) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordRemoteCall записывает длительность удалённого вызова.
func (m *OrderMetrics) RecordRemoteCall(service, command string, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.remoteDuration.WithLabelValues(service, command, resultLabel(ok)).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
