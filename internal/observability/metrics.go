package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewPrometheusRegistry builds the process-wide metrics registry, including
// the standard Go and process collectors.
func NewPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// PaymentMetrics counts reconciliation outcomes per provider. Amount mismatches
// get their own counter so they can be alerted on directly.
type PaymentMetrics struct {
	Reconciled      *prometheus.CounterVec
	AmountMismatch  *prometheus.CounterVec
	WebhooksHandled *prometheus.CounterVec
}

func NewPaymentMetrics(reg *prometheus.Registry) *PaymentMetrics {
	factory := promauto.With(reg)
	return &PaymentMetrics{
		Reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cursopay_payments_reconciled_total",
			Help: "Payment validations by provider and outcome.",
		}, []string{"provider", "outcome"}),
		AmountMismatch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cursopay_amount_mismatch_total",
			Help: "Provider amount did not match the ledger amount.",
		}, []string{"provider"}),
		WebhooksHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cursopay_webhooks_handled_total",
			Help: "Webhook deliveries by type and result.",
		}, []string{"type", "result"}),
	}
}
