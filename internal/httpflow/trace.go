package httpflow

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"sync"
	"time"
)

// Timings are the phases of one HTTP request.
type Timings struct {
	Blocked        time.Duration
	Connecting     time.Duration
	TLSHandshaking time.Duration
	Sending        time.Duration
	Waiting        time.Duration
	Receiving      time.Duration
	// Duration is Sending + Waiting + Receiving.
	Duration time.Duration
}

// tracer records httptrace events for one request. Dial callbacks may run
// on other goroutines, hence the mutex.
type tracer struct {
	mu sync.Mutex

	getConn      time.Time
	gotConn      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	wroteRequest time.Time
	firstByte    time.Time

	reused      bool
	headerBytes int64
}

func (t *tracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			t.mu.Lock()
			t.getConn = time.Now()
			t.mu.Unlock()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			t.mu.Lock()
			t.gotConn = time.Now()
			t.reused = info.Reused
			t.mu.Unlock()
		},
		ConnectStart: func(string, string) {
			t.mu.Lock()
			if t.connectStart.IsZero() {
				t.connectStart = time.Now()
			}
			t.mu.Unlock()
		},
		ConnectDone: func(_, _ string, err error) {
			if err != nil {
				return
			}
			t.mu.Lock()
			t.connectDone = time.Now()
			t.mu.Unlock()
		},
		TLSHandshakeStart: func() {
			t.mu.Lock()
			t.tlsStart = time.Now()
			t.mu.Unlock()
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			t.mu.Lock()
			t.tlsDone = time.Now()
			t.mu.Unlock()
		},
		WroteHeaderField: func(key string, values []string) {
			n := int64(len(key) + 2 + 2)
			for i, v := range values {
				if i > 0 {
					n += 2
				}
				n += int64(len(v))
			}
			t.mu.Lock()
			t.headerBytes += n
			t.mu.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.mu.Lock()
			t.wroteRequest = time.Now()
			t.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			t.mu.Lock()
			t.firstByte = time.Now()
			t.mu.Unlock()
		},
	}
}

func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}

// timings computes the request phases; done is when the body was read.
func (t *tracer) timings(start, done time.Time) Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	getConn := t.getConn
	if getConn.IsZero() {
		getConn = start
	}
	gotConn := t.gotConn
	if gotConn.IsZero() {
		gotConn = getConn
	}

	tm := Timings{
		Blocked:        span(getConn, gotConn),
		Connecting:     span(t.connectStart, t.connectDone),
		TLSHandshaking: span(t.tlsStart, t.tlsDone),
		Sending:        span(gotConn, t.wroteRequest),
		Waiting:        span(t.wroteRequest, t.firstByte),
		Receiving:      span(t.firstByte, done),
	}
	// Blocked covers dialing on a fresh connection; report the dial phases
	// separately.
	if !t.reused {
		tm.Blocked -= tm.Connecting + tm.TLSHandshaking
		if tm.Blocked < 0 {
			tm.Blocked = 0
		}
	}
	tm.Duration = tm.Sending + tm.Waiting + tm.Receiving
	return tm
}

// sentBytes estimates the bytes written for req: request line, the header
// fields seen by the trace, the header terminator and the body.
func (t *tracer) sentBytes(req *http.Request, bodyLen int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	line := len(req.Method) + 1 + len(req.URL.RequestURI()) + len(" HTTP/1.1\r\n")
	return int64(line) + t.headerBytes + 2 + int64(bodyLen)
}

// receivedBytes estimates the bytes of resp: status line, headers and body.
func receivedBytes(resp *http.Response, bodyLen int) int64 {
	n := len(resp.Proto) + 1 + len(resp.Status) + 2
	for k, vs := range resp.Header {
		k = textproto.CanonicalMIMEHeaderKey(k)
		for _, v := range vs {
			n += len(k) + 2 + len(v) + 2
		}
	}
	return int64(n+2) + int64(bodyLen)
}
