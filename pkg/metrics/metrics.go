package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wikistream_messages_received_total",
		Help: "Total number of server-sent events read from the stream",
	})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wikistream_messages_dropped_total",
		Help: "Total number of stream messages that produced no record",
	}, []string{"reason"})

	Records = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wikistream_records_total",
		Help: "Total number of normalized edit records",
	})

	BatchesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wikistream_batches_sent_total",
		Help: "Total number of batches posted to the ingestion endpoint",
	}, []string{"outcome"})

	RecordsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wikistream_records_sent_total",
		Help: "Total number of records accepted by the ingestion endpoint",
	})

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wikistream_batch_send_duration_seconds",
		Help:    "Ingestion request duration",
		Buckets: prometheus.DefBuckets,
	})

	PendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wikistream_pending_records",
		Help: "Records held in the current batch",
	})
)
