package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/thetooth/pinggraph/ping"
)

const namespace = "pinggraph"

var labelNames = []string{"target", "mode"}

// Metrics exports probe outcomes to Prometheus.
type Metrics struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	lost     *prometheus.CounterVec
	rtt      *prometheus.HistogramVec
	jitter   *prometheus.GaugeVec
	loss     *prometheus.GaugeVec
	echoed   prometheus.Counter
	restarts prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_sent_total",
			Help:      "Number of probes sent",
		}, labelNames),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_received_total",
			Help:      "Number of probes answered before their timeout",
		}, labelNames),
		lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_lost_total",
			Help:      "Number of probes that timed out",
		}, labelNames),
		rtt: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtt_seconds",
			Help:      "Round trip time of answered probes",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, labelNames),
		jitter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jitter_seconds",
			Help:      "RTT difference between the last two answered probes",
		}, labelNames),
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loss_percent",
			Help:      "Packet loss of the current session in percent",
		}, labelNames),
		echoed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echoed_packets_total",
			Help:      "Number of probe packets echoed by the server",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Number of times the probing session was restarted",
		}),
	}

	reg.MustRegister(m.sent, m.received, m.lost, m.rtt, m.jitter, m.loss, m.echoed, m.restarts)
	return m
}

// Observe records one probe result and the session loss after it.
func (m *Metrics) Observe(target, mode string, r ping.Result, lossPercent float64) {
	m.sent.WithLabelValues(target, mode).Inc()
	m.loss.WithLabelValues(target, mode).Set(lossPercent)

	rtt, ok := r.RTT()
	if !ok {
		m.lost.WithLabelValues(target, mode).Inc()
		return
	}
	m.received.WithLabelValues(target, mode).Inc()
	m.rtt.WithLabelValues(target, mode).Observe(rtt.Seconds())
	if jitter, ok := r.Jitter(); ok {
		m.jitter.WithLabelValues(target, mode).Set(jitter.Seconds())
	}
}

func (m *Metrics) Echoed() { m.echoed.Inc() }

func (m *Metrics) Restarted() { m.restarts.Inc() }

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	l := logrus.New()
	l.Level = logrus.ErrorLevel

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      l,
		ErrorHandling: promhttp.ContinueOnError,
	}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logrus.Infof("Listening for /metrics on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
