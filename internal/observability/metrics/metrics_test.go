package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Aegis-MCP/internal/audit"
)

// scrape renders the default registry through the public handler. Counters
// accumulate across tests in this package, so every test uses label values
// nobody else touches.
func scrape(t *testing.T) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != 200 {
		t.Fatalf("unexpected scrape status: %d", recorder.Code)
	}
	return recorder.Body.String()
}

func mustContain(t *testing.T, body string, lines []string) {
	t.Helper()
	for _, line := range lines {
		if !strings.Contains(body, line) {
			t.Fatalf("exposition missing %q", line)
		}
	}
}

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	ObserveHTTPRequest("query-http-test", "POST", 200, 120*time.Millisecond)
	ObserveHTTPRequest("query-http-test", "POST", 502, 80*time.Millisecond)

	mustContain(t, scrape(t), []string{
		`aegis_http_requests_total{code="200",handler="query-http-test",method="POST"} 1`,
		`aegis_http_requests_total{code="502",handler="query-http-test",method="POST"} 1`,
		`aegis_http_request_errors_total{handler="query-http-test",method="POST"} 1`,
		`aegis_http_request_duration_seconds_count{handler="query-http-test",method="POST"} 2`,
	})
}

func TestObserveHTTPRequestIgnoresClientErrors(t *testing.T) {
	ObserveHTTPRequest("token-http-test", "POST", 401, 5*time.Millisecond)

	body := scrape(t)
	mustContain(t, body, []string{
		`aegis_http_requests_total{code="401",handler="token-http-test",method="POST"} 1`,
	})
	if strings.Contains(body, `aegis_http_request_errors_total{handler="token-http-test"`) {
		t.Fatalf("4xx responses must not count as server errors")
	}
}

func TestObservePipelineStage(t *testing.T) {
	ObservePipelineStage("stage-metrics-test", 40*time.Millisecond)

	mustContain(t, scrape(t), []string{
		`aegis_pipeline_stage_duration_seconds_count{stage="stage-metrics-test"} 1`,
		`aegis_pipeline_stage_duration_seconds_bucket{stage="stage-metrics-test",le="0.1"} 1`,
	})
}

func TestCountPolicyBlockTracksCategories(t *testing.T) {
	CountPolicyBlock("WRITE_GMAIL", []string{"financial", "legal"})
	CountPolicyBlock("WRITE_GMAIL", []string{"financial"})

	mustContain(t, scrape(t), []string{
		`aegis_policy_blocks_total{surface="WRITE_GMAIL"} 2`,
		`aegis_policy_block_categories_total{category="financial"} 2`,
		`aegis_policy_block_categories_total{category="legal"} 1`,
	})
}

func TestRecorderBridgesAuditEntries(t *testing.T) {
	var recorder Recorder
	recorder.Record(context.Background(), audit.Entry{
		Kind:       audit.KindPolicyBlock,
		UserID:     "user-1",
		Surface:    "READ_GMAIL",
		Categories: []string{"credentials"},
	})
	recorder.Record(context.Background(), audit.Entry{
		Kind:     audit.KindToolCall,
		UserID:   "user-1",
		Surface:  "READ_WALLET",
		ToolName: "get_wallet_portfolio",
		Outcome:  audit.OutcomeSuccess,
	})

	mustContain(t, scrape(t), []string{
		`aegis_policy_blocks_total{surface="READ_GMAIL"} 1`,
		`aegis_policy_block_categories_total{category="credentials"} 1`,
		`aegis_tool_calls_total{outcome="success",surface="READ_WALLET",tool="get_wallet_portfolio"} 1`,
	})
}

func TestProviderStatsSource(t *testing.T) {
	SetProviderStatsSource(func() (uint64, uint64) { return 3, 1 })
	defer SetProviderStatsSource(nil)

	mustContain(t, scrape(t), []string{
		`aegis_llm_provider_invocations_total{route="primary"} 3`,
		`aegis_llm_provider_invocations_total{route="fallback"} 1`,
	})
}

func TestStartServerRequiresAddress(t *testing.T) {
	if err := StartServer(context.Background(), ""); err == nil {
		t.Fatalf("expected an error for an empty address")
	}
}

func TestStartServerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("metrics server did not stop after cancellation")
	}
}
