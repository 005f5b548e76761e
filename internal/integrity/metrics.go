package integrity

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a pull-model prometheus.Collector backed directly by the
// store's read queries: every Collect scrapes fresh rather than maintaining
// any counters of its own, so scrape results never drift from the database.
type Collector struct {
	checker *Checker
	ctx     context.Context
	logger  *slog.Logger

	queueDepth       *prometheus.Desc
	resultCount      *prometheus.Desc
	errorCount       *prometheus.Desc
	orphanedRequests *prometheus.Desc
	ghostRequests    *prometheus.Desc
	compressionRatio *prometheus.Desc
	speculationCeil  *prometheus.Desc
	speculationStop  *prometheus.Desc
}

// NewCollector builds a Collector. ctx bounds every query issued during a
// scrape; pass a long-lived context tied to the process, not a per-request one.
func NewCollector(ctx context.Context, c *Checker, logger *slog.Logger) *Collector {
	return &Collector{
		checker: c,
		ctx:     ctx,
		logger:  logger.With("component", "integrity_metrics"),

		queueDepth: prometheus.NewDesc("kestrel_queue_depth",
			"Number of requests in a given status for a given continuation.",
			[]string{"continuation", "status"}, nil),
		resultCount: prometheus.NewDesc("kestrel_result_count",
			"Number of stored Results by type and validity.",
			[]string{"result_type", "valid"}, nil),
		errorCount: prometheus.NewDesc("kestrel_error_count",
			"Number of stored Errors by type and resolution state.",
			[]string{"error_type", "resolved"}, nil),
		orphanedRequests: prometheus.NewDesc("kestrel_orphaned_requests",
			"Number of orphaned rows found by the integrity checker, by kind.",
			[]string{"kind"}, nil),
		ghostRequests: prometheus.NewDesc("kestrel_ghost_requests",
			"Number of completed requests with no children and no results.", nil, nil),
		compressionRatio: prometheus.NewDesc("kestrel_compression_ratio",
			"Compressed-to-original byte ratio per continuation.",
			[]string{"continuation"}, nil),
		speculationCeil: prometheus.NewDesc("kestrel_speculation_ceiling",
			"Current ceiling id for a speculation slot.", []string{"slot"}, nil),
		speculationStop: prometheus.NewDesc("kestrel_speculation_stopped",
			"1 if a speculation slot has stopped, else 0.", []string{"slot"}, nil),
	}
}

// Describe sends every metric's Desc, satisfying prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.resultCount
	ch <- c.errorCount
	ch <- c.orphanedRequests
	ch <- c.ghostRequests
	ch <- c.compressionRatio
	ch <- c.speculationCeil
	ch <- c.speculationStop
}

// Collect runs the integrity checks and summary query against the store and
// emits one gauge sample per row. A failed sub-query is logged and skipped
// rather than aborting the whole scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.checker.Summary(c.ctx)
	if err != nil {
		c.logger.Error("summary query failed during scrape", "error", err)
	} else {
		for _, q := range stats.QueueStatus {
			ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(q.Count), q.Continuation, string(q.Status))
		}
		for resultType, counts := range stats.ResultTypeCounts {
			ch <- prometheus.MustNewConstMetric(c.resultCount, prometheus.GaugeValue, float64(counts.Valid), resultType, "true")
			ch <- prometheus.MustNewConstMetric(c.resultCount, prometheus.GaugeValue, float64(counts.Invalid), resultType, "false")
		}
		for errorType, counts := range stats.ErrorTypeCounts {
			ch <- prometheus.MustNewConstMetric(c.errorCount, prometheus.GaugeValue, float64(counts.Resolved), string(errorType), "true")
			ch <- prometheus.MustNewConstMetric(c.errorCount, prometheus.GaugeValue, float64(counts.Unresolved), string(errorType), "false")
		}
		for continuation, bytes := range stats.CompressionRatios {
			if bytes[0] == 0 {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.compressionRatio, prometheus.GaugeValue, float64(bytes[1])/float64(bytes[0]), continuation)
		}
		for _, p := range stats.Speculation {
			ch <- prometheus.MustNewConstMetric(c.speculationCeil, prometheus.GaugeValue, float64(p.CurrentCeiling), p.SlotKey)
			stopped := 0.0
			if p.Stopped {
				stopped = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.speculationStop, prometheus.GaugeValue, stopped, p.SlotKey)
		}
	}

	orphans, err := c.checker.Orphans(c.ctx)
	if err != nil {
		c.logger.Error("orphan check failed during scrape", "error", err)
	} else {
		byKind := map[string]int{}
		for _, o := range orphans {
			byKind[o.Kind]++
		}
		for kind, count := range byKind {
			ch <- prometheus.MustNewConstMetric(c.orphanedRequests, prometheus.GaugeValue, float64(count), kind)
		}
	}

	ghosts, err := c.checker.Ghosts(c.ctx)
	if err != nil {
		c.logger.Error("ghost check failed during scrape", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.ghostRequests, prometheus.GaugeValue, float64(len(ghosts)))
	}
}
