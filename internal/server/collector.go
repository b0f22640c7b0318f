package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "telemetryd"

// collector reads one aggregator snapshot per scrape.
type collector struct {
	ctrl Controller

	received      *prometheus.Desc
	sent          *prometheus.Desc
	decodeErrors  *prometheus.Desc
	sendErrors    *prometheus.Desc
	droppedFrames *prometheus.Desc
	avgLatency    *prometheus.Desc
	subscribers   *prometheus.Desc
	throughput    *prometheus.Desc
	uptime        *prometheus.Desc
	generatorUp   *prometheus.Desc
}

func newCollector(ctrl Controller) *collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &collector{
		ctrl:          ctrl,
		received:      desc("messages_received_total", "Datagrams decoded by the listener."),
		sent:          desc("messages_sent_total", "Events handed to the broadcaster."),
		decodeErrors:  desc("decode_errors_total", "Datagrams dropped because they failed to decode."),
		sendErrors:    desc("generator_send_errors_total", "Synthetic datagrams the generator failed to send."),
		droppedFrames: desc("dropped_frames_total", "Frames dropped for subscribers whose backlog was full."),
		avgLatency:    desc("processing_latency_avg_milliseconds", "Running average of arrival-to-broadcast latency."),
		subscribers:   desc("subscribers", "Currently connected subscribers."),
		throughput:    desc("throughput_messages_per_second", "Messages received per second since start."),
		uptime:        desc("uptime_seconds", "Seconds since the pipeline started."),
		generatorUp:   desc("generator_running", "1 when the traffic generator is running.", "mode"),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.sent
	ch <- c.decodeErrors
	ch <- c.sendErrors
	ch <- c.droppedFrames
	ch <- c.avgLatency
	ch <- c.subscribers
	ch <- c.throughput
	ch <- c.uptime
	ch <- c.generatorUp
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.ctrl.Metrics()
	st := c.ctrl.Status()

	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(m.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(m.MessagesSent))
	ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(m.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(c.sendErrors, prometheus.CounterValue, float64(m.SendErrors))
	ch <- prometheus.MustNewConstMetric(c.droppedFrames, prometheus.CounterValue, float64(m.DroppedFrames))
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, m.AvgLatency)
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(m.ConnectionsCount))
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, m.Throughput)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, m.UptimeSeconds)

	running := 0.0
	if st.IsRunning {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.generatorUp, prometheus.GaugeValue, running, string(st.Mode))
}
