package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
)

// csvColumns are the fixed columns; any other tag goes into extra_tags as
// url-query-like k=v pairs.
var csvColumns = []string{"check", "error", "method", "name", "scenario", "status", "url"}

var csvHeader = append(append([]string{"metric_name", "timestamp", "metric_value"}, csvColumns...), "extra_tags")

// CSV writes one row per sample.
type CSV struct {
	path string
	file *os.File
	w    *csv.Writer
	p    Params
}

// NewCSV creates a CSV output writing to p.Target.
func NewCSV(p Params) (*CSV, error) {
	if p.Target == "" {
		return nil, fmt.Errorf("csv output needs a file path")
	}
	p.Logger = logging.OrNop(p.Logger)
	return &CSV{path: p.Target, p: p}, nil
}

// Description implements Output.
func (c *CSV) Description() string { return "csv (" + c.path + ")" }

// Start creates the file and writes the header.
func (c *CSV) Start() error {
	f, err := os.Create(c.path)
	if err != nil {
		return err
	}
	c.file = f
	c.w = csv.NewWriter(f)
	return c.w.Write(csvHeader)
}

// AddSamples implements Output.
func (c *CSV) AddSamples(samples []metrics.Sample) {
	for _, s := range samples {
		if err := c.w.Write(csvRow(s)); err != nil {
			c.p.Logger.Warnw("csv output write failed", "path", c.path, "error", err)
			return
		}
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.p.Logger.Warnw("csv output write failed", "path", c.path, "error", err)
	}
}

func csvRow(s metrics.Sample) []string {
	row := make([]string, 0, len(csvHeader))
	row = append(row,
		s.Metric.Name,
		strconv.FormatInt(s.Time.Unix(), 10),
		strconv.FormatFloat(s.Value, 'f', 6, 64),
	)
	fixed := make(map[string]bool, len(csvColumns))
	for _, col := range csvColumns {
		fixed[col] = true
		row = append(row, s.Tags[col])
	}

	var extra []string
	for k, v := range s.Tags {
		if !fixed[k] {
			extra = append(extra, k+"="+v)
		}
	}
	sort.Strings(extra)
	return append(row, strings.Join(extra, "&"))
}

// Stop flushes and closes the file.
func (c *CSV) Stop() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}
