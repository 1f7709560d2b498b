package report

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSlogReporterRoutesBySeverity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		severity  Severity
		wantLevel string
	}{
		{SeverityCritical, "ERROR"},
		{SeverityHigh, "WARN"},
		{SeverityInfo, "INFO"},
	}

	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			reporter := NewSlogReporter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

			reporter.Report(context.Background(), Incident{
				Severity:    tc.severity,
				Code:        "tenant-store-unreachable",
				Message:     "store read failed",
				Recoverable: true,
				Fields:      map[string]string{"tenant_id": "t-1"},
			})

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
			}

			if got := entry["level"]; got != tc.wantLevel {
				t.Fatalf("level = %v, want %s", got, tc.wantLevel)
			}
			if got := entry["code"]; got != "tenant-store-unreachable" {
				t.Fatalf("code = %v", got)
			}
			if got := entry["tenant_id"]; got != "t-1" {
				t.Fatalf("tenant_id = %v", got)
			}
			if !strings.Contains(buf.String(), "store read failed") {
				t.Fatalf("log line missing message: %s", buf.String())
			}
		})
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	t.Parallel()

	recorder := &Recorder{}
	recorder.Report(context.Background(), Incident{Code: "first"})
	recorder.Report(context.Background(), Incident{Code: "second"})

	incidents := recorder.Incidents()
	if len(incidents) != 2 || incidents[0].Code != "first" || incidents[1].Code != "second" {
		t.Fatalf("incidents = %+v", incidents)
	}
}

func TestRecorderReturnsCopy(t *testing.T) {
	t.Parallel()

	recorder := &Recorder{}
	recorder.Report(context.Background(), Incident{Code: "original"})

	snapshot := recorder.Incidents()
	snapshot[0].Code = "mutated"

	if got := recorder.Incidents()[0].Code; got != "original" {
		t.Fatalf("recorder state = %q, snapshot mutation leaked", got)
	}
}

func TestRecorderConcurrentReports(t *testing.T) {
	t.Parallel()

	recorder := &Recorder{}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Report(context.Background(), Incident{Code: "concurrent"})
		}()
	}
	wg.Wait()

	if got := len(recorder.Incidents()); got != 16 {
		t.Fatalf("incidents = %d, want 16", got)
	}
}
