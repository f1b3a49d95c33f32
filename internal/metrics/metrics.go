package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eahart/discord-gateway/internal/gateway"
	"github.com/eahart/discord-gateway/internal/journal"
)

const namespace = "gateway"

// ShardLister provides the shards to export.
type ShardLister interface {
	Shards() []*gateway.Shard
}

// ShardListerFunc is a function adapter for ShardLister.
type ShardListerFunc func() []*gateway.Shard

func (f ShardListerFunc) Shards() []*gateway.Shard {
	return f()
}

// Collector exports shard and journal state on scrape.
type Collector struct {
	shards  ShardLister
	journal *journal.Journal

	// Per-shard, labeled by shard ID
	connectionState *prometheus.Desc
	heartbeatAcked  *prometheus.Desc
	heartbeatPing   *prometheus.Desc
	sessionSequence *prometheus.Desc
	eventsReceived  *prometheus.Desc
	eventsDropped   *prometheus.Desc
	decodeErrors    *prometheus.Desc
	reconnects      *prometheus.Desc
	zombieCloses    *prometheus.Desc
	fatalCloses     *prometheus.Desc

	// Journal-wide
	journalInserts   *prometheus.Desc
	journalConflicts *prometheus.Desc
	journalFlushes   *prometheus.Desc
	journalErrors    *prometheus.Desc
	journalDropped   *prometheus.Desc
	bufferLen        *prometheus.Desc
	bufferCapacity   *prometheus.Desc
}

// NewCollector creates a Collector over the given shards. A nil journal
// skips the journal metrics.
func NewCollector(shards ShardLister, j *journal.Journal) *Collector {
	shardDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "shard", name),
			help,
			[]string{"shard"},
			nil,
		)
	}
	journalDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "journal", name),
			help,
			nil,
			nil,
		)
	}

	return &Collector{
		shards:  shards,
		journal: j,

		connectionState: shardDesc("connection_state",
			"Shard lifecycle state (0=not_connected, 1=connecting, 2=connected, 3=resuming)"),
		heartbeatAcked: shardDesc("heartbeat_acknowledged",
			"Whether the most recent heartbeat was acknowledged (1) or is outstanding (0)"),
		heartbeatPing: shardDesc("heartbeat_ping_seconds",
			"Time between the last heartbeat send and its acknowledgement"),
		sessionSequence: shardDesc("session_sequence",
			"Last dispatch sequence number observed on this shard's session"),
		eventsReceived: shardDesc("events_received_total",
			"Total envelopes decoded from the gateway"),
		eventsDropped: shardDesc("events_dropped_total",
			"Total envelopes dropped because the consumer channel was full"),
		decodeErrors: shardDesc("decode_errors_total",
			"Total inbound frames that failed to decode"),
		reconnects: shardDesc("reconnects_total",
			"Total reconnect attempts after retryable closes"),
		zombieCloses: shardDesc("zombie_closes_total",
			"Total connections closed for missing heartbeat acknowledgements"),
		fatalCloses: shardDesc("fatal_closes_total",
			"Total closes with a fatal code that stopped the shard"),

		journalInserts: journalDesc("inserts_total",
			"Total event rows written"),
		journalConflicts: journalDesc("conflicts_total",
			"Total event rows skipped as already present"),
		journalFlushes: journalDesc("flushes_total",
			"Total batch flushes"),
		journalErrors: journalDesc("errors_total",
			"Total failed batch inserts"),
		journalDropped: journalDesc("dropped_total",
			"Total records rejected by a full journal buffer"),
		bufferLen: journalDesc("buffer_len",
			"Records currently queued in the journal buffer"),
		bufferCapacity: journalDesc("buffer_capacity",
			"Current capacity of the journal buffer"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectionState
	ch <- c.heartbeatAcked
	ch <- c.heartbeatPing
	ch <- c.sessionSequence
	ch <- c.eventsReceived
	ch <- c.eventsDropped
	ch <- c.decodeErrors
	ch <- c.reconnects
	ch <- c.zombieCloses
	ch <- c.fatalCloses

	ch <- c.journalInserts
	ch <- c.journalConflicts
	ch <- c.journalFlushes
	ch <- c.journalErrors
	ch <- c.journalDropped
	ch <- c.bufferLen
	ch <- c.bufferCapacity
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, sh := range c.shards.Shards() {
		label := strconv.Itoa(sh.ID())
		hb := sh.Heartbeat()
		stats := sh.Stats()

		gauge := func(desc *prometheus.Desc, val float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, val, label)
		}
		counter := func(desc *prometheus.Desc, val int64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(val), label)
		}

		gauge(c.connectionState, float64(sh.State()))
		acked := 0.0
		if hb.Acknowledged {
			acked = 1.0
		}
		gauge(c.heartbeatAcked, acked)
		gauge(c.heartbeatPing, hb.Ping.Seconds())
		gauge(c.sessionSequence, float64(sh.Session().Sequence))

		counter(c.eventsReceived, stats.EventsReceived)
		counter(c.eventsDropped, stats.EventsDropped)
		counter(c.decodeErrors, stats.DecodeErrors)
		counter(c.reconnects, stats.Reconnects)
		counter(c.zombieCloses, stats.ZombieCloses)
		counter(c.fatalCloses, stats.FatalCloses)
	}

	if c.journal == nil {
		return
	}

	js := c.journal.Stats()
	counter := func(desc *prometheus.Desc, val int64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(val))
	}
	counter(c.journalInserts, js.Inserts)
	counter(c.journalConflicts, js.Conflicts)
	counter(c.journalFlushes, js.Flushes)
	counter(c.journalErrors, js.Errors)
	counter(c.journalDropped, js.Dropped)

	bs := c.journal.BufferStats()
	ch <- prometheus.MustNewConstMetric(c.bufferLen, prometheus.GaugeValue, float64(bs.Count))
	ch <- prometheus.MustNewConstMetric(c.bufferCapacity, prometheus.GaugeValue, float64(bs.Capacity))
}

// RegisterBuildInfo registers the build_info gauge on the given registry.
func RegisterBuildInfo(reg prometheus.Registerer, version, commit string) {
	promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata, always 1",
		ConstLabels: prometheus.Labels{
			"version": version,
			"commit":  commit,
		},
	}).Set(1)
}
