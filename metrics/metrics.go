// Package metrics exports node telemetry loop state to Prometheus.
package metrics

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/aquanode/aquanode/frame"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/tele"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aquanode"

type Metrics struct {
	reg *prometheus.Registry

	cycles        prometheus.Counter
	encodeFails   prometheus.Counter
	cycleDuration prometheus.Histogram
	state         prometheus.Gauge
	fields        *prometheus.GaugeVec
}

// New registers loop metrics and connectivity counters read from stat on scrape.
func New(stat *tele.Stat) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Telemetry loop cycles started.",
		}),
		encodeFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encode_failures_total",
			Help:      "Records skipped because payload did not fit budget.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time from cycle start to end of service, without cadence sleep.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tele_state",
			Help:      "Connection state: 0 Disconnected, 1 LinkUp, 2 SessionActive.",
		}),
		fields: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "field_value",
			Help:      "Last converted value per telemetry field, absent while unreadable.",
		}, []string{"sensor"}),
	}
	m.reg.MustRegister(m.cycles, m.encodeFails, m.cycleDuration, m.state, m.fields)

	counter := func(name, help string, get func(s *tele.Stat) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			s := stat.Copy()
			return get(&s)
		})
	}
	m.reg.MustRegister(
		counter("tele_connects_total", "Successful broker sessions.", func(s *tele.Stat) float64 { return float64(s.Connects) }),
		counter("tele_connect_failures_total", "Failed broker connect attempts.", func(s *tele.Stat) float64 { return float64(s.ConnectFails) }),
		counter("tele_link_failures_total", "Link probes that found network down.", func(s *tele.Stat) float64 { return float64(s.LinkFails) }),
		counter("tele_lost_total", "Active sessions lost on publish or service.", func(s *tele.Stat) float64 { return float64(s.Lost) }),
		counter("tele_published_total", "Payloads handed to transport.", func(s *tele.Stat) float64 { return float64(s.Published) }),
		counter("tele_publish_failures_total", "Failed publish attempts.", func(s *tele.Stat) float64 { return float64(s.PublishFails) }),
		counter("tele_published_bytes_total", "Payload bytes handed to transport.", func(s *tele.Stat) float64 { return float64(s.PublishedBytes) }),
		counter("tele_received_total", "Inbound messages delivered to handler.", func(s *tele.Stat) float64 { return float64(s.Received) }),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// nil receiver methods are no-op, metrics are optional

func (m *Metrics) SetState(s tele.State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) CycleStart() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) EncodeFailed() {
	if m == nil {
		return
	}
	m.encodeFails.Inc()
}

func (m *Metrics) CycleDone(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Record(r *frame.Record) {
	if m == nil || r == nil {
		return
	}
	for i := 0; i < r.Len(); i++ {
		f, v := r.At(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m.fields.DeleteLabelValues(f.Sensor)
			continue
		}
		m.fields.WithLabelValues(f.Sensor).Set(v)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve runs HTTP endpoint with /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, listen string, log *log2.Log) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errch := make(chan error, 1)
	go func() { errch <- srv.ListenAndServe() }()
	log.Infof("metrics listen=%s", listen)

	select {
	case err := <-errch:
		return errors.Annotatef(err, "metrics listen=%s", listen)
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return errors.Annotate(err, "metrics shutdown")
	}
	if err := <-errch; err != nil && err != http.ErrServerClosed {
		return errors.Annotate(err, "metrics serve")
	}
	return nil
}
