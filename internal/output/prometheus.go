package output

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
)

// DefaultPrometheusAddr is used when the prometheus output has no target.
const DefaultPrometheusAddr = ":5656"

const promNamespace = "surge"

var trendStats = []struct {
	label string
	key   string
}{
	{"avg", "avg"},
	{"min", "min"},
	{"med", "med"},
	{"max", "max"},
	{"p90", "p(90)"},
	{"p95", "p(95)"},
	{"p99", "p(99)"},
}

// Prometheus serves the current metric values on /metrics. It reads the
// registry at scrape time, so AddSamples does nothing.
type Prometheus struct {
	addr     string
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	p        Params
}

// NewPrometheus creates a prometheus output listening on p.Target.
func NewPrometheus(p Params) (*Prometheus, error) {
	if p.Registry == nil {
		return nil, fmt.Errorf("prometheus output needs a metrics registry")
	}
	p.Logger = logging.OrNop(p.Logger)
	addr := p.Target
	if addr == "" {
		addr = DefaultPrometheusAddr
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(newCollector(p.Registry, p.RunID)); err != nil {
		return nil, err
	}
	return &Prometheus{addr: addr, registry: reg, p: p}, nil
}

// Description implements Output.
func (o *Prometheus) Description() string { return "prometheus (" + o.addr + ")" }

// Handler returns the scrape handler.
func (o *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// Addr returns the bound address once started.
func (o *Prometheus) Addr() string {
	if o.listener != nil {
		return o.listener.Addr().String()
	}
	return o.addr
}

// Start begins serving.
func (o *Prometheus) Start() error {
	ln, err := net.Listen("tcp", o.addr)
	if err != nil {
		return err
	}
	o.listener = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", o.Handler())
	o.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := o.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.p.Logger.Errorw("prometheus output stopped", "addr", o.addr, "error", err)
		}
	}()
	return nil
}

// AddSamples implements Output.
func (o *Prometheus) AddSamples([]metrics.Sample) {}

// Stop shuts the server down.
func (o *Prometheus) Stop() error {
	if o.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.server.Shutdown(ctx)
}

// collector exports a metrics registry. It describes nothing up front since
// custom metrics appear while the test runs.
type collector struct {
	registry *metrics.Registry
	runID    string
}

func newCollector(r *metrics.Registry, runID string) *collector {
	return &collector{registry: r, runID: runID}
}

func (c *collector) Describe(chan<- *prometheus.Desc) {}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	labels := prometheus.Labels{}
	if c.runID != "" {
		labels["run_id"] = c.runID
	}

	for _, m := range c.registry.All() {
		if m.Empty() {
			continue
		}
		name := promName(m.Name)
		values := m.Values(0, 99)

		switch m.Type {
		case metrics.Counter:
			desc := prometheus.NewDesc(name+"_total", m.Name+" counter", nil, labels)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, values["count"])
		case metrics.Gauge:
			desc := prometheus.NewDesc(name, m.Name+" gauge", nil, labels)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, values["value"])
		case metrics.Rate:
			desc := prometheus.NewDesc(name+"_rate", m.Name+" rate of non-zero samples", nil, labels)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, values["rate"])
		case metrics.Trend:
			desc := prometheus.NewDesc(name, m.Name+" trend", []string{"stat"}, labels)
			for _, st := range trendStats {
				ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, values[st.key], st.label)
			}
		}
	}
}

var promInvalid = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func promName(name string) string {
	return promNamespace + "_" + strings.ToLower(promInvalid.ReplaceAllString(name, "_"))
}
