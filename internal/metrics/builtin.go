package metrics

// Built-in metric names.
const (
	VUsName               = "vus"
	VUsMaxName            = "vus_max"
	IterationsName        = "iterations"
	IterationDurationName = "iteration_duration"
	DroppedIterationsName = "dropped_iterations"
	DataSentName          = "data_sent"
	DataReceivedName      = "data_received"
	ChecksName            = "checks"

	HTTPReqsName              = "http_reqs"
	HTTPReqFailedName         = "http_req_failed"
	HTTPReqDurationName       = "http_req_duration"
	HTTPReqBlockedName        = "http_req_blocked"
	HTTPReqConnectingName     = "http_req_connecting"
	HTTPReqTLSHandshakingName = "http_req_tls_handshaking"
	HTTPReqSendingName        = "http_req_sending"
	HTTPReqWaitingName        = "http_req_waiting"
	HTTPReqReceivingName      = "http_req_receiving"
)

var builtinNames = []string{
	VUsName, VUsMaxName, IterationsName, IterationDurationName, DroppedIterationsName,
	DataSentName, DataReceivedName, ChecksName,
	HTTPReqsName, HTTPReqFailedName, HTTPReqDurationName, HTTPReqBlockedName,
	HTTPReqConnectingName, HTTPReqTLSHandshakingName, HTTPReqSendingName,
	HTTPReqWaitingName, HTTPReqReceivingName,
}

// BuiltinNames returns the set of built-in metric names.
func BuiltinNames() map[string]bool {
	out := make(map[string]bool, len(builtinNames))
	for _, n := range builtinNames {
		out[n] = true
	}
	return out
}

// BuiltinMetrics holds the metrics every engine registers.
type BuiltinMetrics struct {
	VUs               *Metric
	VUsMax            *Metric
	Iterations        *Metric
	IterationDuration *Metric
	DroppedIterations *Metric
	DataSent          *Metric
	DataReceived      *Metric
	Checks            *Metric

	HTTPReqs              *Metric
	HTTPReqFailed         *Metric
	HTTPReqDuration       *Metric
	HTTPReqBlocked        *Metric
	HTTPReqConnecting     *Metric
	HTTPReqTLSHandshaking *Metric
	HTTPReqSending        *Metric
	HTTPReqWaiting        *Metric
	HTTPReqReceiving      *Metric
}

// RegisterBuiltinMetrics registers the built-in metrics in r.
func RegisterBuiltinMetrics(r *Registry) *BuiltinMetrics {
	return &BuiltinMetrics{
		VUs:               r.MustNewMetric(VUsName, Gauge),
		VUsMax:            r.MustNewMetric(VUsMaxName, Gauge),
		Iterations:        r.MustNewMetric(IterationsName, Counter),
		IterationDuration: r.MustNewMetric(IterationDurationName, Trend, Time),
		DroppedIterations: r.MustNewMetric(DroppedIterationsName, Counter),
		DataSent:          r.MustNewMetric(DataSentName, Counter, Data),
		DataReceived:      r.MustNewMetric(DataReceivedName, Counter, Data),
		Checks:            r.MustNewMetric(ChecksName, Rate),

		HTTPReqs:              r.MustNewMetric(HTTPReqsName, Counter),
		HTTPReqFailed:         r.MustNewMetric(HTTPReqFailedName, Rate),
		HTTPReqDuration:       r.MustNewMetric(HTTPReqDurationName, Trend, Time),
		HTTPReqBlocked:        r.MustNewMetric(HTTPReqBlockedName, Trend, Time),
		HTTPReqConnecting:     r.MustNewMetric(HTTPReqConnectingName, Trend, Time),
		HTTPReqTLSHandshaking: r.MustNewMetric(HTTPReqTLSHandshakingName, Trend, Time),
		HTTPReqSending:        r.MustNewMetric(HTTPReqSendingName, Trend, Time),
		HTTPReqWaiting:        r.MustNewMetric(HTTPReqWaitingName, Trend, Time),
		HTTPReqReceiving:      r.MustNewMetric(HTTPReqReceivingName, Trend, Time),
	}
}

// Totals reads the headline counters used by the timeline and live progress.
func (b *BuiltinMetrics) Totals() Totals {
	vus := b.VUs.Values(0)
	iters := b.Iterations.Values(0)
	reqs := b.HTTPReqs.Values(0)
	failed := b.HTTPReqFailed.Values(0)
	dur := b.HTTPReqDuration.Values(0, 99)

	return Totals{
		VUs:        int64(vus["value"]),
		Iterations: int64(iters["count"]),
		Requests:   int64(reqs["count"]),
		Failures:   int64(failed["passes"]),
		P50:        dur["med"],
		P95:        dur["p(95)"],
		P99:        dur["p(99)"],
	}
}
