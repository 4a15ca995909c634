package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversations_created_total",
		Help: "Conversations created successfully.",
	})
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_appended_total",
		Help: "Messages appended, by kind.",
	}, []string{"kind"})
	ReadReceiptsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "read_receipts_upserted_total",
		Help: "Read receipts newly created.",
	})
	LiveSubscriptionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_subscriptions_open",
		Help: "Currently open live update channels.",
	})
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_reconnects_total",
		Help: "Live feed reconnect attempts after a drop.",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
