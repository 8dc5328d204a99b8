package output

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON writes newline-delimited JSON: a Metric line the first time a metric
// is seen, then one Point line per sample. A .gz target is gzip-compressed;
// "-" writes to stdout.
type JSON struct {
	path string

	file    io.WriteCloser
	gz      *gzip.Writer
	buf     *bufio.Writer
	enc     *jsoniter.Encoder
	seen    map[string]bool
	encErrs int
	p       Params
}

type jsonEnvelope struct {
	Type   string `json:"type"`
	Metric string `json:"metric"`
	Data   any    `json:"data"`
}

type jsonMetric struct {
	Name     string             `json:"name"`
	Type     metrics.MetricType `json:"type"`
	Contains metrics.ValueType  `json:"contains"`
}

type jsonPoint struct {
	Time  time.Time    `json:"time"`
	Value float64      `json:"value"`
	Tags  metrics.Tags `json:"tags"`
}

// NewJSON creates a JSON output writing to p.Target.
func NewJSON(p Params) (*JSON, error) {
	if p.Target == "" {
		return nil, fmt.Errorf("json output needs a file path")
	}
	p.Logger = logging.OrNop(p.Logger)
	return &JSON{path: p.Target, p: p, seen: make(map[string]bool)}, nil
}

// Description implements Output.
func (j *JSON) Description() string { return "json (" + j.path + ")" }

// Start opens the file.
func (j *JSON) Start() error {
	var w io.Writer
	if j.path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(j.path)
		if err != nil {
			return err
		}
		j.file = f
		w = f
	}
	if strings.HasSuffix(j.path, ".gz") {
		j.gz = gzip.NewWriter(w)
		w = j.gz
	}
	j.buf = bufio.NewWriter(w)
	j.enc = json.NewEncoder(j.buf)
	return nil
}

// AddSamples implements Output.
func (j *JSON) AddSamples(samples []metrics.Sample) {
	for _, s := range samples {
		name := s.Metric.Name
		if !j.seen[name] {
			j.seen[name] = true
			j.encode(jsonEnvelope{
				Type:   "Metric",
				Metric: name,
				Data:   jsonMetric{Name: name, Type: s.Metric.Type, Contains: s.Metric.Contains},
			})
		}
		j.encode(jsonEnvelope{
			Type:   "Point",
			Metric: name,
			Data:   jsonPoint{Time: s.Time, Value: s.Value, Tags: s.Tags},
		})
	}
	if err := j.buf.Flush(); err != nil {
		j.p.Logger.Warnw("json output write failed", "path", j.path, "error", err)
	}
}

func (j *JSON) encode(v any) {
	if err := j.enc.Encode(v); err != nil {
		j.encErrs++
		if j.encErrs == 1 {
			j.p.Logger.Warnw("json output encode failed", "path", j.path, "error", err)
		}
	}
}

// Stop flushes and closes the file.
func (j *JSON) Stop() error {
	if err := j.buf.Flush(); err != nil {
		return err
	}
	if j.gz != nil {
		if err := j.gz.Close(); err != nil {
			return err
		}
	}
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}
