package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records intent lifecycle and reconciliation outcomes.
type PaymentMetrics struct {
	captures         *prometheus.CounterVec
	reconcileBatches prometheus.Counter
	reconcileResults *prometheus.CounterVec
	retryExhausted   prometheus.Counter
	readerDegraded   prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	captures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_captures_total",
		Help: "Intents that reached captured, by capture mode.",
	}, []string{"mode"})
	reconcileBatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_reconcile_batches_total",
		Help: "Reconciliation batches submitted.",
	})
	reconcileResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_results_total",
		Help: "Per-transaction reconciliation outcomes.",
	}, []string{"outcome"})
	retryExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_retry_exhausted_total",
		Help: "Intents moved to failed after exhausting the retry budget.",
	})
	readerDegraded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reader_degraded_total",
		Help: "Reader health gate transitions to degraded.",
	})
	reg.MustRegister(captures, reconcileBatches, reconcileResults, retryExhausted, readerDegraded)
	return &PaymentMetrics{
		captures:         captures,
		reconcileBatches: reconcileBatches,
		reconcileResults: reconcileResults,
		retryExhausted:   retryExhausted,
		readerDegraded:   readerDegraded,
	}
}

// IncCapture counts a capture. Mode is "online" or "offline".
func (p *PaymentMetrics) IncCapture(mode string) {
	if p == nil || p.captures == nil {
		return
	}
	p.captures.WithLabelValues(normalizeLabel(mode)).Inc()
}

// IncReconcileBatch counts a submitted batch.
func (p *PaymentMetrics) IncReconcileBatch() {
	if p == nil || p.reconcileBatches == nil {
		return
	}
	p.reconcileBatches.Inc()
}

// IncReconcileResult counts one per-transaction outcome.
func (p *PaymentMetrics) IncReconcileResult(outcome string) {
	if p == nil || p.reconcileResults == nil {
		return
	}
	p.reconcileResults.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRetryExhausted counts an intent whose retry budget ran out.
func (p *PaymentMetrics) IncRetryExhausted() {
	if p == nil || p.retryExhausted == nil {
		return
	}
	p.retryExhausted.Inc()
}

// IncReaderDegraded counts a gate transition to degraded.
func (p *PaymentMetrics) IncReaderDegraded() {
	if p == nil || p.readerDegraded == nil {
		return
	}
	p.readerDegraded.Inc()
}
