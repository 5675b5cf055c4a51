package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_poll_cycles_total",
		Help: "Completed poll cycles.",
	})
	TransactionsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_transactions_ingested_total",
		Help: "Normalized transactions seen across all cycles.",
	})
	AlertsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_alerts_emitted_total",
		Help: "Alerts emitted to sinks.",
	})
	DedupeHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_dedupe_hits_total",
		Help: "Alerts suppressed because their dedupe key was already seen.",
	})
	PriceItemsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_price_items_requested_total",
		Help: "Token entries sent in price batch requests.",
	})
	PriceItemsQuoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_price_items_quoted_total",
		Help: "Quotes returned by price batch requests.",
	})
	PriceBatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_price_batch_errors_total",
		Help: "Failed price batch requests.",
	})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalewatch_sink_errors_total",
		Help: "Delivery failures per sink.",
	}, []string{"sink"})
)

// Handler exposes the default registry for the dashboard's /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
