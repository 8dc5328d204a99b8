// Package perf runs surge load tests from Go code.
//
// A test is a document (loaded from YAML/JSON or built in code) plus the Go
// functions its scenarios name in exec:
//
//	cfg := &perf.Config{
//	    Name: "checkout",
//	    Scenarios: map[string]*perf.ScenarioConfig{
//	        "buy": {
//	            Executor: "constant-vus",
//	            Exec:     "buy",
//	            VUs:      10,
//	            Duration: "30s",
//	        },
//	    },
//	    Thresholds: map[string][]perf.ThresholdConfig{
//	        "http_req_duration": {{Threshold: "p(95) < 500ms"}},
//	    },
//	}
//
//	res, err := perf.New(cfg,
//	    perf.WithExec("buy", func(ctx context.Context, st *perf.State) error {
//	        req, _ := http.NewRequestWithContext(ctx, "GET", "https://shop.test/cart", nil)
//	        resp, err := st.HTTP.Do(req)
//	        if err != nil {
//	            return err
//	        }
//	        defer resp.Body.Close()
//	        st.Check("status is 200", resp.StatusCode == 200)
//	        return nil
//	    }),
//	).Run(ctx)
//	perf.WriteSummary(os.Stdout, res)
//	os.Exit(perf.ExitCode(err))
//
// Scenarios without exec run their declarative requests, which also emit
// the http_* metrics.
package perf
