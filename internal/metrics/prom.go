package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "msgrelay"

var deliveryHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "link",
	Name:      "delivery_duration_seconds",
	Help:      "Time spent filtering and forwarding one received payload",
	Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
}, []string{"link"})

// relayCollector exports the package counters. Values are read at scrape
// time, so the hot path only touches atomics.
type relayCollector struct {
	messages   *prometheus.Desc
	bytes      *prometheus.Desc
	errors     *prometheus.Desc
	restarts   *prometheus.Desc
	running    *prometheus.Desc
	deliveries *prometheus.Desc
	failed     *prometheus.Desc
	empty      *prometheus.Desc
	reloads    *prometheus.Desc
}

// NewCollector returns a prometheus.Collector over the package counters.
func NewCollector() prometheus.Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &relayCollector{
		messages:   desc("endpoint", "messages_total", "Payloads received or sent per endpoint", "endpoint", "direction"),
		bytes:      desc("endpoint", "bytes_total", "Bytes received or sent per endpoint", "endpoint", "direction"),
		errors:     desc("endpoint", "errors_total", "Transport errors per endpoint", "endpoint"),
		restarts:   desc("endpoint", "restarts_total", "Automatic restarts per endpoint", "endpoint"),
		running:    desc("endpoint", "running", "Endpoints currently started"),
		deliveries: desc("link", "deliveries_total", "Relay operations completed per link", "link"),
		failed:     desc("link", "delivery_errors_total", "Destinations skipped because filtering or sending failed"),
		empty:      desc("link", "filtered_empty_total", "Destinations skipped because the filtered payload was empty"),
		reloads:    desc("config", "reloads_total", "Configuration reloads applied"),
	}
}

func (c *relayCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messages
	ch <- c.bytes
	ch <- c.errors
	ch <- c.restarts
	ch <- c.running
	ch <- c.deliveries
	ch <- c.failed
	ch <- c.empty
	ch <- c.reloads
}

func (c *relayCollector) Collect(ch chan<- prometheus.Metric) {
	st := SnapshotData()
	for name, ep := range st.Endpoints {
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(ep.MessagesReceived), name, "rx")
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(ep.MessagesSent), name, "tx")
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(ep.BytesReceived), name, "rx")
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(ep.BytesSent), name, "tx")
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(ep.Errors), name)
		ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.CounterValue, float64(ep.Restarts), name)
	}
	for name, n := range st.DeliveriesPerLink {
		ch <- prometheus.MustNewConstMetric(c.deliveries, prometheus.CounterValue, float64(n), name)
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(st.EndpointsRunning))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(st.DeliveryErrors))
	ch <- prometheus.MustNewConstMetric(c.empty, prometheus.CounterValue, float64(st.FilteredEmpty))
	ch <- prometheus.MustNewConstMetric(c.reloads, prometheus.CounterValue, float64(st.ConfigReloads))
}

// Register adds the relay collectors to reg.
func Register(reg prometheus.Registerer) error {
	if err := reg.Register(NewCollector()); err != nil {
		return err
	}
	return reg.Register(deliveryHistogram)
}
