package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Ingested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatoverlay_ingest_total",
		Help: "Chat events seen by ingestion, by outcome.",
	}, []string{"outcome"})

	Evicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatoverlay_queue_evicted_total",
		Help: "Records forced to dead by the capacity limit.",
	})
	Expired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatoverlay_queue_expired_total",
		Help: "Records whose TTL fired while still on screen.",
	})
	Swept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatoverlay_queue_swept_total",
		Help: "Dead records removed by the periodic sweep.",
	})
	Removed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatoverlay_queue_removed_total",
		Help: "Records removed outright by moderation events, by reason.",
	}, []string{"reason"})
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatoverlay_queue_size",
		Help: "Records held by the queue, dead ones included.",
	})

	CatalogEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatoverlay_catalog_entries",
		Help: "Entries in the loaded catalogs, by kind.",
	}, []string{"kind"})
	CatalogFetchFail = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatoverlay_catalog_fetch_fail_total",
		Help: "Failed catalog fetches, by source.",
	}, []string{"source"})

	OverlayClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatoverlay_overlay_clients",
		Help: "Connected overlay websocket clients.",
	})
	OverlayDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatoverlay_overlay_dropped_total",
		Help: "Snapshot frames dropped because a client queue was full.",
	})

	ArchiveDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatoverlay_archive_dropped_total",
		Help: "Retired records not archived because the archive queue was full.",
	})
	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatoverlay_uploads_total",
		Help: "Transcript uploads, by result.",
	}, []string{"result"})
)

func Register() {
	prometheus.MustRegister(
		Ingested,
		Evicted, Expired, Swept, Removed, QueueSize,
		CatalogEntries, CatalogFetchFail,
		OverlayClients, OverlayDropped,
		ArchiveDropped, Uploads,
	)
}
