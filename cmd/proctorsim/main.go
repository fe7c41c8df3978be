package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/proctorwatch/internal/debounce"
	"github.com/ent0n29/proctorwatch/internal/ingest"
	"github.com/ent0n29/proctorwatch/internal/observability"
	"github.com/ent0n29/proctorwatch/internal/reliability"
)

type options struct {
	baseURL        string
	candidateName  string
	candidateEmail string
	observerID     string
	ticks          int
	seed           int64
	tick           time.Duration
	faceAbsence    time.Duration
	focusLoss      time.Duration
	watch          bool
	verbose        bool
}

type createSessionRequest struct {
	CandidateName  string `json:"candidate_name"`
	CandidateEmail string `json:"candidate_email"`
	ObserverID     string `json:"observer_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type endSessionRequest struct {
	DurationSeconds int64 `json:"duration_seconds"`
}

type monitorSettings struct {
	TickMS               int64 `json:"tick_ms"`
	FaceAbsenceMS        int64 `json:"face_absence_ms"`
	FocusLossMS          int64 `json:"focus_loss_ms"`
	InstantCooldownTicks int   `json:"instant_cooldown_ticks"`
}

type wsEnvelope struct {
	Type           string `json:"type"`
	Code           string `json:"code,omitempty"`
	Detail         string `json:"detail,omitempty"`
	IntegrityScore *int   `json:"integrity_score,omitempty"`
	Event          *struct {
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
		Message  string `json:"message"`
	} `json:"event,omitempty"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "proctorsim: %v\n", err)
		os.Exit(2)
	}
	logger, err := observability.BuildLogger("warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "proctorsim: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	src := &limitedSource{next: debounce.NewRandomSource(cfg.seed, debounce.Probabilities{}), left: cfg.ticks}
	if err := run(ctx, cfg, src, time.Time{}, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "proctorsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("proctorsim", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "proctorwatch base URL")
	fs.StringVar(&cfg.candidateName, "candidate-name", "Sim Candidate", "candidate name for the synthetic session")
	fs.StringVar(&cfg.candidateEmail, "candidate-email", "sim@example.com", "candidate email for the synthetic session")
	fs.StringVar(&cfg.observerID, "observer-id", "", "optional observer assigned to the session")
	fs.IntVar(&cfg.ticks, "ticks", 120, "number of monitoring ticks to simulate")
	fs.Int64Var(&cfg.seed, "seed", time.Now().UnixNano(), "random seed for the simulated vision pipeline")
	fs.DurationVar(&cfg.tick, "tick", 0, "tick interval override (default: server setting)")
	fs.DurationVar(&cfg.faceAbsence, "face-absence", 0, "face absence threshold override (default: server setting)")
	fs.DurationVar(&cfg.focusLoss, "focus-loss", 0, "focus loss threshold override (default: server setting)")
	fs.BoolVar(&cfg.watch, "watch", true, "join the session websocket and print live alerts")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.ticks <= 0 {
		return options{}, fmt.Errorf("ticks must be > 0")
	}
	if cfg.tick < 0 || cfg.faceAbsence < 0 || cfg.focusLoss < 0 {
		return options{}, fmt.Errorf("durations must be >= 0")
	}
	if !strings.Contains(cfg.candidateEmail, "@") {
		return options{}, fmt.Errorf("candidate-email must be an email address")
	}
	return cfg, nil
}

// run drives one synthetic interview end to end. A zero startedAt means the
// session starts now.
func run(ctx context.Context, cfg options, src debounce.SignalSource, startedAt time.Time, out io.Writer, logger *zap.Logger) error {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	dcfg, err := fetchMonitorConfig(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("monitor settings: %w", err)
	}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	if cfg.verbose {
		fmt.Fprintf(out, "proctorsim: session=%s ticks=%d tick=%s\n", sessionID, cfg.ticks, dcfg.Tick)
	}

	watchDone := make(chan struct{})
	watchCtx, stopWatch := context.WithCancel(ctx)
	if cfg.watch {
		go func() {
			defer close(watchDone)
			if err := watch(watchCtx, cfg.baseURL, sessionID, out); err != nil && watchCtx.Err() == nil {
				fmt.Fprintf(out, "proctorsim: watch stopped: %v\n", err)
			}
		}()
	} else {
		close(watchDone)
	}

	sink := &httpSink{client: httpClient, baseURL: cfg.baseURL, sessionID: sessionID}
	monitor := debounce.NewMonitor(dcfg, src, sink, logger)
	runErr := monitor.Run(ctx, startedAt)

	duration := int64(time.Since(startedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	endErr := endSession(context.Background(), httpClient, cfg.baseURL, sessionID, duration)

	// Give the watcher a moment to print the final session_state.
	select {
	case <-watchDone:
	case <-time.After(500 * time.Millisecond):
	}
	stopWatch()
	<-watchDone

	if runErr != nil {
		return fmt.Errorf("monitor: %w", runErr)
	}
	if endErr != nil {
		return fmt.Errorf("end session: %w", endErr)
	}
	if cfg.verbose {
		fmt.Fprintf(out, "proctorsim: emitted=%d accepted=%d\n", monitor.Emitted(), sink.accepted)
	}
	return printReport(ctx, httpClient, cfg.baseURL, sessionID, out)
}

// limitedSource ends the simulation after a fixed number of ticks.
type limitedSource struct {
	next debounce.SignalSource
	left int
}

func (s *limitedSource) Next(ctx context.Context) (debounce.Signal, error) {
	if s.left <= 0 {
		return debounce.Signal{}, io.EOF
	}
	s.left--
	return s.next.Next(ctx)
}

// httpSink posts violations to the ingestion endpoint. The monitor loop is
// single-threaded, so accepted needs no lock.
type httpSink struct {
	client    *http.Client
	baseURL   string
	sessionID string
	accepted  int
}

func (s *httpSink) Emit(ctx context.Context, v debounce.Violation) error {
	meta, err := json.Marshal(v.Snapshot)
	if err != nil {
		return err
	}
	offset := v.OffsetSec
	confidence := v.Confidence
	req := ingest.Request{
		Kind:       string(v.Kind),
		Message:    v.Message,
		Severity:   string(v.Severity),
		OffsetSec:  &offset,
		Confidence: &confidence,
		Metadata:   meta,
	}
	endpoint := s.baseURL + "/v1/sessions/" + url.PathEscape(s.sessionID) + "/events"
	err = reliability.Retry(ctx, reliability.DefaultPolicy(), func(ctx context.Context) error {
		err := postJSON(ctx, s.client, endpoint, req, http.StatusCreated, nil)
		var se *httpStatusError
		if errors.As(err, &se) && !reliability.IsRetryableHTTPStatus(se.code) {
			return reliability.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}
	s.accepted++
	return nil
}

func fetchMonitorConfig(ctx context.Context, client *http.Client, cfg options) (debounce.Config, error) {
	dcfg := debounce.DefaultConfig()
	var settings monitorSettings
	if err := getJSON(ctx, client, cfg.baseURL+"/v1/monitor/settings", &settings); err != nil {
		return debounce.Config{}, err
	}
	if settings.TickMS > 0 {
		dcfg.Tick = time.Duration(settings.TickMS) * time.Millisecond
	}
	if settings.FaceAbsenceMS > 0 {
		dcfg.FaceAbsence = time.Duration(settings.FaceAbsenceMS) * time.Millisecond
	}
	if settings.FocusLossMS > 0 {
		dcfg.FocusLoss = time.Duration(settings.FocusLossMS) * time.Millisecond
	}
	if settings.InstantCooldownTicks > 0 {
		dcfg.InstantCooldownTicks = settings.InstantCooldownTicks
	}
	if cfg.tick > 0 {
		dcfg.Tick = cfg.tick
	}
	if cfg.faceAbsence > 0 {
		dcfg.FaceAbsence = cfg.faceAbsence
	}
	if cfg.focusLoss > 0 {
		dcfg.FocusLoss = cfg.focusLoss
	}
	return dcfg, nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	var created createSessionResponse
	err := postJSON(ctx, client, cfg.baseURL+"/v1/sessions", createSessionRequest{
		CandidateName:  cfg.candidateName,
		CandidateEmail: cfg.candidateEmail,
		ObserverID:     cfg.observerID,
	}, http.StatusCreated, &created)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(created.SessionID) == "" {
		return "", errors.New("missing session_id in response")
	}
	return created.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string, duration int64) error {
	endpoint := baseURL + "/v1/sessions/" + url.PathEscape(sessionID) + "/end"
	return postJSON(ctx, client, endpoint, endSessionRequest{DurationSeconds: duration}, http.StatusOK, nil)
}

func printReport(ctx context.Context, client *http.Client, baseURL, sessionID string, out io.Writer) error {
	endpoint := baseURL + "/v1/sessions/" + url.PathEscape(sessionID) + "/report?format=text"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return statusError(res)
	}
	_, err = io.Copy(out, res.Body)
	return err
}

func watch(ctx context.Context, baseURL, sessionID string, out io.Writer) error {
	wsURL, err := wsURLFor(baseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(map[string]string{"type": "join_session", "session_id": sessionID}); err != nil {
		return err
	}
	for {
		var msg wsEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case "violation_alert":
			if msg.Event != nil {
				fmt.Fprintf(out, "alert: [%s] %s: %s\n", msg.Event.Severity, msg.Event.Kind, msg.Event.Message)
			}
		case "score_update":
			if msg.IntegrityScore != nil {
				fmt.Fprintf(out, "score: %d\n", *msg.IntegrityScore)
			}
		case "error_event":
			fmt.Fprintf(out, "error: %s %s\n", msg.Code, msg.Detail)
		}
	}
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	return u.String(), nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body any, want int, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		return statusError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return statusError(res)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.code, e.body)
}

func statusError(res *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &httpStatusError{code: res.StatusCode, body: strings.TrimSpace(string(b))}
}
