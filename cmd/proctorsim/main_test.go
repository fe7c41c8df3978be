package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/proctorwatch/internal/app"
	"github.com/ent0n29/proctorwatch/internal/config"
	"github.com/ent0n29/proctorwatch/internal/debounce"
	"github.com/ent0n29/proctorwatch/internal/observability"
)

func TestParseFlagsValidation(t *testing.T) {
	if _, err := parseFlags([]string{"-ticks", "0"}); err == nil {
		t.Fatalf("parseFlags(-ticks 0) error = nil, want error")
	}
	if _, err := parseFlags([]string{"-candidate-email", "nobody"}); err == nil {
		t.Fatalf("parseFlags(bad email) error = nil, want error")
	}
	cfg, err := parseFlags([]string{"-base-url", "http://localhost:9000/", "-seed", "7"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://localhost:9000" || cfg.seed != 7 {
		t.Fatalf("parsed options = %+v", cfg)
	}
}

func TestWSURLFor(t *testing.T) {
	got, err := wsURLFor("https://proctor.example/api")
	if err != nil {
		t.Fatalf("wsURLFor() error = %v", err)
	}
	if got != "wss://proctor.example/api/v1/ws" {
		t.Fatalf("wsURLFor() = %q", got)
	}
	if _, err := wsURLFor("ftp://x"); err == nil {
		t.Fatalf("wsURLFor(ftp) error = nil, want error")
	}
}

func TestLimitedSourceStops(t *testing.T) {
	src := &limitedSource{next: debounce.NewRandomSource(1, debounce.Probabilities{}), left: 2}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := src.Next(ctx); err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
	}
	if _, err := src.Next(ctx); err == nil {
		t.Fatalf("Next() after limit error = nil, want io.EOF")
	}
}

func TestRunAgainstInProcessServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := config.Config{
		SessionIdleTimeout:   time.Minute,
		JanitorInterval:      time.Second,
		MonitorTick:          time.Second,
		FaceAbsenceThreshold: 10 * time.Second,
		FocusLossThreshold:   5 * time.Second,
		InstantCooldownTicks: 3,
	}
	built, err := app.BuildWith(ctx, cfg, nil, app.Options{
		Metrics: observability.NewMetricsWith(prometheus.NewRegistry(), "test_sim"),
	})
	if err != nil {
		t.Fatalf("BuildWith() error = %v", err)
	}
	defer built.Cleanup()
	built.Start(ctx)
	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	// Twelve virtual seconds without a face: one no_face at the 10s mark.
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var signals []debounce.Signal
	for s := 1; s <= 12; s++ {
		signals = append(signals, debounce.Signal{At: t0.Add(time.Duration(s) * time.Second), GazeOnScreen: true, FaceConfidence: 0.9})
	}

	opts := options{
		baseURL:        ts.URL,
		candidateName:  "Alice",
		candidateEmail: "alice@x.com",
		ticks:          len(signals),
		tick:           time.Millisecond,
		watch:          false,
		verbose:        true,
	}
	var out bytes.Buffer
	if err := run(ctx, opts, debounce.NewScriptedSource(signals), t0, &out, nil); err != nil {
		t.Fatalf("run() error = %v\n%s", err, out.String())
	}

	text := out.String()
	for _, want := range []string{
		"emitted=1 accepted=1",
		"Integrity Score: 95",
		"00:10 - [error] no_face",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestHTTPSinkRetriesTransientFailures(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	sink := &httpSink{client: ts.Client(), baseURL: ts.URL, sessionID: "s1"}
	if err := sink.Emit(context.Background(), debounce.Violation{Kind: "phone", Severity: "error", Message: "Phone"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if calls != 2 || sink.accepted != 1 {
		t.Fatalf("calls = %d accepted = %d, want 2/1", calls, sink.accepted)
	}
}

func TestHTTPSinkDoesNotRetryRejections(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	sink := &httpSink{client: ts.Client(), baseURL: ts.URL, sessionID: "s1"}
	if err := sink.Emit(context.Background(), debounce.Violation{Kind: "phone"}); err == nil {
		t.Fatalf("Emit() error = nil, want rejection")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
