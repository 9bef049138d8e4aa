// Package metrics exports FTP server activity as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/telebroad/fastftp/transfer"
)

const namespace = "ftp"

// Collector records commands, sessions and transfers. A nil *Collector is
// a no-op.
type Collector struct {
	Commands         *prometheus.CounterVec
	Transfers        *prometheus.CounterVec
	TransferBytes    *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg. With a nil
// reg they are created but not registered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled, by verb and reply class.",
		}, []string{"command", "code_class"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Data transfers, by direction, result and copy strategy.",
		}, []string{"direction", "result", "strategy"}),
		TransferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved over data connections.",
		}, []string{"direction"}),
		TransferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of data transfers.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10), // 5ms to ~22 minutes
		}, []string{"direction"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open control connections.",
		}),
	}

	if reg != nil {
		c.Commands = registerOrReuse(reg, c.Commands).(*prometheus.CounterVec)
		c.Transfers = registerOrReuse(reg, c.Transfers).(*prometheus.CounterVec)
		c.TransferBytes = registerOrReuse(reg, c.TransferBytes).(*prometheus.CounterVec)
		c.TransferDuration = registerOrReuse(reg, c.TransferDuration).(*prometheus.HistogramVec)
		c.ActiveSessions = registerOrReuse(reg, c.ActiveSessions).(prometheus.Gauge)
	}
	return c
}

// registerOrReuse returns the already registered collector when reg has
// one with the same descriptor.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// CodeClass maps a reply code to "2xx" style labels. Commands answered by
// nothing (the session dropped) are "none".
func CodeClass(code int) string {
	if code < 100 || code > 599 {
		return "none"
	}
	return strconv.Itoa(code/100) + "xx"
}

func (c *Collector) RecordCommand(verb string, code int) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(verb, CodeClass(code)).Inc()
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.ActiveSessions.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.ActiveSessions.Dec()
}

func (c *Collector) RecordTransfer(direction transfer.Direction, strategy transfer.Strategy, bytes int64, duration time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	dir := string(direction)
	c.Transfers.WithLabelValues(dir, result, string(strategy)).Inc()
	c.TransferBytes.WithLabelValues(dir).Add(float64(bytes))
	c.TransferDuration.WithLabelValues(dir).Observe(duration.Seconds())
}
