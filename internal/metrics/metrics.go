// Package metrics содержит Prometheus-метрики сервиса биллинга.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gym_billing"

// Metrics набор коллекторов сервиса. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	transitions       *prometheus.CounterVec
	autoPay           *prometheus.CounterVec
	conflictRetries   *prometheus.CounterVec
	webhooks          *prometheus.CounterVec
	jobItems          *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// MustNew создаёт метрики и регистрирует их в reg. Повторная регистрация
// переиспользует уже зарегистрированные коллекторы.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_transitions_total",
			Help:      "Subscription status transitions.",
		}, []string{"from", "to"}),
		autoPay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopay_attempts_total",
			Help:      "Wallet auto-pay attempts by outcome.",
		}, []string{"result"}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Operations retried after a concurrent modification.",
		}, []string{"operation"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhooks_total",
			Help:      "Payment webhooks by result.",
		}, []string{"result"}),
		jobItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_items_total",
			Help:      "Items processed by periodic jobs.",
		}, []string{"job", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of transactional operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	m.transitions = register(reg, m.transitions)
	m.autoPay = register(reg, m.autoPay)
	m.conflictRetries = register(reg, m.conflictRetries)
	m.webhooks = register(reg, m.webhooks)
	m.jobItems = register(reg, m.jobItems)
	m.operationDuration = register(reg, m.operationDuration)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Transition учитывает смену статуса абонемента.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// AutoPay учитывает попытку автосписания: paid, insufficient_balance, skipped, error.
func (m *Metrics) AutoPay(result string) {
	if m == nil {
		return
	}
	m.autoPay.WithLabelValues(result).Inc()
}

// ConflictRetry учитывает повтор операции после конфликта версий.
func (m *Metrics) ConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(operation).Inc()
}

// Webhook учитывает обработку платёжного уведомления.
func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

// JobItem учитывает обработку одного элемента периодической задачи.
func (m *Metrics) JobItem(job, result string) {
	if m == nil {
		return
	}
	m.jobItems.WithLabelValues(job, result).Inc()
}

// ObserveOperation фиксирует длительность операции.
func (m *Metrics) ObserveOperation(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operationDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}
