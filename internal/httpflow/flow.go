// Package httpflow turns declarative request lists into iteration
// functions that issue traced HTTP requests and emit the http_* metrics.
package httpflow

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/vu"
)

// SetupPrefix prefixes setup data in variable lookups: {{setup.token}}.
const SetupPrefix = "setup."

// Options configures a compiled flow.
type Options struct {
	Settings *config.GlobalSettings
	// Variables are the global variables overlaid with scenario variables.
	Variables map[string]string
	// Limiter, when set, is taken before every request.
	Limiter ratelimit.Limiter
	Logger  *zap.SugaredLogger
}

// Flow is a compiled request list.
//
// # Thread Safety
//
// A Flow is immutable after Compile and may be run by many VUs at once.
type Flow struct {
	steps  []*step
	opts   Options
	logger *zap.SugaredLogger
}

type step struct {
	req      config.RequestConfig
	timeout  time.Duration
	think    time.Duration
	tags     metrics.Tags
	checks   []*check
	extracts []*extractor
}

// Compile validates and prepares reqs.
func Compile(reqs []config.RequestConfig, opts Options) (*Flow, error) {
	if opts.Settings == nil {
		opts.Settings = &config.GlobalSettings{}
	}
	f := &Flow{opts: opts, logger: logging.OrNop(opts.Logger)}

	defaultTimeout := opts.Settings.Timeout.GetDuration(config.DefaultTimeout)
	for i, r := range reqs {
		s := &step{req: r, timeout: defaultTimeout}
		if s.req.Method == "" {
			s.req.Method = http.MethodGet
		}
		s.req.Method = strings.ToUpper(s.req.Method)
		if s.req.Name == "" {
			s.req.Name = s.req.Method + " " + s.req.URL
		}

		if r.Timeout != "" {
			d, err := config.ParseDurationString(r.Timeout)
			if err != nil {
				return nil, fmt.Errorf("requests[%d].timeout: %w", i, err)
			}
			s.timeout = d
		}
		if r.ThinkTime != "" {
			d, err := config.ParseDurationString(r.ThinkTime)
			if err != nil {
				return nil, fmt.Errorf("requests[%d].thinkTime: %w", i, err)
			}
			s.think = d
		}
		s.tags = metrics.Tags(r.Tags).Clone()

		for j, a := range r.Assertions {
			c, err := compileCheck(a)
			if err != nil {
				return nil, fmt.Errorf("requests[%d].assertions[%d]: %w", i, j, err)
			}
			s.checks = append(s.checks, c)
		}
		for j, e := range r.Extract {
			x, err := compileExtract(e)
			if err != nil {
				return nil, fmt.Errorf("requests[%d].extract[%d]: %w", i, j, err)
			}
			s.extracts = append(s.extracts, x)
		}
		f.steps = append(f.steps, s)
	}
	return f, nil
}

// Len returns the number of requests in the flow.
func (f *Flow) Len() int { return len(f.steps) }

// Iteration returns an iteration function running the flow once per call.
//
// Variables resolve from, lowest first: the flow variables, setup data as
// setup.<name>, and the VU's own values. Extracted values are stored on
// the VU and survive into its later iterations.
func (f *Flow) Iteration() vu.IterationFunc {
	return func(ctx context.Context, st *vu.State) error {
		vars := f.vars(st)
		_, err := f.run(ctx, st, vars, func(k, v string) {
			if st.VU != nil {
				st.VU.SetData(k, v)
			}
		})
		return err
	}
}

// Run executes the flow once and returns every value it extracted. vars
// overlay the flow variables.
func (f *Flow) Run(ctx context.Context, st *vu.State, vars map[string]string) (map[string]string, error) {
	all := config.MergeVariables(f.vars(st), vars)
	return f.run(ctx, st, all, nil)
}

func (f *Flow) vars(st *vu.State) map[string]string {
	out := config.MergeVariables(f.opts.Variables)
	if data, ok := st.Data.(map[string]string); ok {
		for k, v := range data {
			out[SetupPrefix+k] = v
		}
	}
	if st.VU != nil {
		for k, v := range st.VU.Data() {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func (f *Flow) run(ctx context.Context, st *vu.State, vars map[string]string, store func(k, v string)) (map[string]string, error) {
	extracted := make(map[string]string)
	for i, s := range f.steps {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}

		resp, err := f.do(ctx, st, s, vars)
		if ctx.Err() != nil {
			return extracted, ctx.Err()
		}

		var failed []string
		for _, c := range s.checks {
			ok := resp != nil && c.eval(resp, f.resolve(c.value, vars))
			f.recordCheck(st, s, c.name, ok)
			if !ok && c.fail {
				failed = append(failed, c.name)
			}
		}
		if len(failed) > 0 {
			return extracted, st.Fail("%s: check failed: %s", s.req.Name, strings.Join(failed, ", "))
		}

		if resp != nil {
			for _, x := range s.extracts {
				v, ok := x.extract(resp)
				if !ok {
					f.log(st).Debugw("extract found nothing", "request", s.req.Name, "name", x.name)
					continue
				}
				vars[x.name] = v
				extracted[x.name] = v
				if store != nil {
					store(x.name, v)
				}
			}
		} else if err != nil {
			f.log(st).Debugw("request failed", "request", s.req.Name, "error", err)
		}

		if s.think > 0 && i < len(f.steps)-1 {
			if err := st.Sleep(ctx, s.think); err != nil {
				return extracted, err
			}
		}
	}
	return extracted, nil
}

func (f *Flow) log(st *vu.State) *zap.SugaredLogger {
	if st.Logger != nil {
		return st.Logger
	}
	return f.logger
}

func (f *Flow) resolve(s string, vars map[string]string) string {
	return config.ResolveVariables(s, vars, f.opts.Settings)
}

func (f *Flow) url(raw string, vars map[string]string) string {
	u := f.resolve(raw, vars)
	if strings.HasPrefix(u, "/") && f.opts.Settings.BaseURL != "" {
		u = strings.TrimRight(f.opts.Settings.BaseURL, "/") + u
	}
	return u
}

// do issues one request and emits its samples. A nil response means the
// request failed before a response arrived.
func (f *Flow) do(ctx context.Context, st *vu.State, s *step, vars map[string]string) (*response, error) {
	if f.opts.Limiter != nil {
		f.opts.Limiter.Take()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	target := f.url(s.req.URL, vars)
	tags := st.Tags.Merge(s.tags).Merge(metrics.Tags{
		"method": s.req.Method,
		"name":   s.req.Name,
		"url":    target,
	})

	var body []byte
	if s.req.Body != "" {
		body = []byte(f.resolve(s.req.Body, vars))
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tr := &tracer{}
	reqCtx = httptrace.WithClientTrace(reqCtx, tr.clientTrace())

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, s.req.Method, target, bodyReader)
	if err != nil {
		f.recordError(st, tags, "invalid_request")
		return nil, fmt.Errorf("%s: %w", s.req.Name, err)
	}
	for k, v := range f.opts.Settings.Headers {
		req.Header.Set(k, f.resolve(v, vars))
	}
	ua := f.opts.Settings.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range s.req.Headers {
		req.Header.Set(k, f.resolve(v, vars))
	}

	client := st.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.recordError(st, tags, classifyError(err))
		return nil, err
	}
	data, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	done := time.Now()
	if readErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tm := tr.timings(start, done)
	tags = tags.With("status", strconv.Itoa(resp.StatusCode))
	if readErr != nil {
		tags = tags.With("error", classifyError(readErr))
	}
	failed := resp.StatusCode >= 400 || readErr != nil

	b := st.Builtin
	st.Metrics.Push(
		sample(b.HTTPReqs, 1, tags, done),
		sample(b.HTTPReqFailed, metrics.B(failed), tags, done),
		sample(b.HTTPReqDuration, metrics.D(tm.Duration), tags, done),
		sample(b.HTTPReqBlocked, metrics.D(tm.Blocked), tags, done),
		sample(b.HTTPReqConnecting, metrics.D(tm.Connecting), tags, done),
		sample(b.HTTPReqTLSHandshaking, metrics.D(tm.TLSHandshaking), tags, done),
		sample(b.HTTPReqSending, metrics.D(tm.Sending), tags, done),
		sample(b.HTTPReqWaiting, metrics.D(tm.Waiting), tags, done),
		sample(b.HTTPReqReceiving, metrics.D(tm.Receiving), tags, done),
		sample(b.DataSent, float64(tr.sentBytes(req, len(body))), tags, done),
		sample(b.DataReceived, float64(receivedBytes(resp, len(data))), tags, done),
	)

	return &response{
		status:   resp.StatusCode,
		header:   resp.Header,
		body:     data,
		duration: tm.Duration,
	}, readErr
}

func sample(m *metrics.Metric, v float64, tags metrics.Tags, t time.Time) metrics.Sample {
	return metrics.Sample{Metric: m, Time: t, Value: v, Tags: tags}
}

// recordError emits the samples of a request that got no response.
func (f *Flow) recordError(st *vu.State, tags metrics.Tags, reason string) {
	tags = tags.Merge(metrics.Tags{"status": "0", "error": reason})
	now := time.Now()
	st.Metrics.Push(
		sample(st.Builtin.HTTPReqs, 1, tags, now),
		sample(st.Builtin.HTTPReqFailed, 1, tags, now),
	)
}

func (f *Flow) recordCheck(st *vu.State, s *step, name string, ok bool) {
	tags := st.Tags.Merge(s.tags).Merge(metrics.Tags{"check": name, "name": s.req.Name})
	st.Metrics.Push(metrics.NewSample(st.Builtin.Checks, metrics.B(ok), tags))
}

// classifyError maps a transport error to a short tag value.
func classifyError(err error) string {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	var certErr *x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &certErr), errors.As(err, &hostErr):
		return "tls"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "connection_refused"
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return "connection_reset"
	default:
		return "request"
	}
}
