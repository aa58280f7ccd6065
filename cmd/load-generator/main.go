package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/calsync/project/internal/client/calendar"
	"github.com/calsync/project/internal/client/session"
	"github.com/calsync/project/internal/client/viewrange"
	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/env"
	"github.com/calsync/project/internal/platform/metrics"
)

type config struct {
	PageURL                 string
	Users                   int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	RESTShare               float64
	RequestTimeout          time.Duration
	MetricsAddr             string
}

type simulatedUser struct {
	Index    int
	Name     string
	Calendar *calendar.Calendar

	mu     sync.Mutex
	events []string
}

type runner struct {
	cfg       config
	runID     string
	apiClient *http.Client

	actionsSuccess atomic.Int64
	actionsError   atomic.Int64
	framesSeen     atomic.Int64
	activeVUs      atomic.Int64
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "calsync_loadgen_rest_requests_total",
		Help: "REST requests sent by the load generator.",
	}, []string{"method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "calsync_loadgen_actions_total",
		Help: "Calendar actions executed by the load generator.",
	}, []string{"action", "via", "outcome"})

	framesReceived = metrics.NewCounterVec(metrics.Opts{
		Name: "calsync_loadgen_frames_received_total",
		Help: "Server frames received by virtual users.",
	}, []string{"type"})

	virtualUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "calsync_loadgen_virtual_users",
		Help: "Current number of connected virtual users.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, framesReceived, virtualUsersGauge)
}

func main() {
	if err := env.LoadDotenv(); err != nil {
		log.Fatal(err)
	}
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	r := &runner{
		cfg:       cfg,
		runID:     strconv.FormatInt(time.Now().UTC().UnixNano(), 36),
		apiClient: &http.Client{Timeout: cfg.RequestTimeout},
	}

	if err := r.waitForHTTPStatus(ctx, cfg.PageURL+"api/health", http.StatusOK, cfg.StartupWait); err != nil {
		log.Fatalf("calendar server not ready: %v", err)
	}
	log.Printf("load generator starting: users=%d duration=%s rate_per_user=%.2f/s rest_share=%.2f",
		cfg.Users, cfg.Duration, cfg.ActionsPerUserPerSecond, cfg.RESTShare)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for idx := 0; idx < cfg.Users; idx++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.runUser(ctx, i)
		}(idx)
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load test complete: success_actions=%d error_actions=%d frames=%d",
		r.actionsSuccess.Load(), r.actionsError.Load(), r.framesSeen.Load())
}

func loadConfig() config {
	pageURL := env.String("LOADGEN_PAGE_URL", env.DefaultServerURL)
	if !strings.HasSuffix(pageURL, "/") {
		pageURL += "/"
	}
	return config{
		PageURL:                 pageURL,
		Users:                   env.Int("LOADGEN_USERS", 50),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 5*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 15*time.Second),
		ActionsPerUserPerSecond: env.Float("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.3),
		RESTShare:               env.Float("LOADGEN_REST_SHARE", 0.1),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
	}
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.apiClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == expectedStatus {
			return nil
		}
		lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) runUser(ctx context.Context, idx int) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(max(r.cfg.Users, 1))) * float64(idx))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx*7)))
	mode := viewrange.ModeMonth
	if rng.Intn(2) == 0 {
		mode = viewrange.ModeWeek
	}
	cal, err := calendar.New(r.cfg.PageURL, calendar.Options{Mode: mode, Session: session.DefaultConfig()})
	if err != nil {
		log.Printf("user %d: %v", idx, err)
		return
	}
	user := &simulatedUser{Index: idx, Name: fmt.Sprintf("lg-%s-%d", r.runID, idx), Calendar: cal}

	inbound, stopWatching := cal.Watch(256)
	defer stopWatching()
	go r.trackFrames(ctx, user, inbound)

	cal.Start()
	defer cal.Stop()
	connectCtx, cancel := context.WithTimeout(ctx, r.cfg.StartupWait)
	err = cal.WaitConnected(connectCtx)
	cancel()
	if err != nil {
		log.Printf("user %d did not connect: %v", idx, err)
		return
	}

	virtualUsersGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.ActionsPerUserPerSecond)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	initialJitter := time.Duration(rng.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
		}
	}
}

// trackFrames counts inbound frames and remembers which events this user owns.
func (r *runner) trackFrames(ctx context.Context, user *simulatedUser, inbound <-chan contracts.ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbound:
			r.framesSeen.Add(1)
			framesReceived.WithLabelValues(msg.Type).Inc()
			switch msg.Type {
			case contracts.TypeEventCreated:
				if msg.Event != nil && strings.HasPrefix(msg.Event.Title, user.Name) {
					user.addEvent(msg.Event.ID)
				}
			case contracts.TypeEventDeleted:
				user.removeEvent(msg.EventID)
			}
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	eventID, hasEvent := user.randomEvent(rng)
	viaREST := rng.Float64() < r.cfg.RESTShare

	choice := rng.Float64()
	switch {
	case choice < 0.05:
		r.record("navigate", "ws", user.Calendar.Next())
	case choice < 0.08:
		r.record("navigate", "ws", user.Calendar.Today())
	case !hasEvent || choice < 0.60:
		r.createEvent(ctx, user, rng, viaREST)
	case choice < 0.90:
		r.updateEvent(ctx, user, rng, eventID, viaREST)
	default:
		r.deleteEvent(ctx, user, eventID, viaREST)
	}
}

func (r *runner) randomDraft(user *simulatedUser, rng *rand.Rand) contracts.Event {
	rg := user.Calendar.Range()
	days := rg.Days()
	date := time.Now().Format(contracts.DateLayout)
	if len(days) > 0 {
		date = days[rng.Intn(len(days))]
	}
	draft := contracts.Event{
		Title: fmt.Sprintf("%s event %d", user.Name, rng.Intn(100000)),
		Date:  date,
		Color: contracts.Palette[rng.Intn(len(contracts.Palette))],
	}
	if rng.Intn(3) > 0 {
		draft.Time = fmt.Sprintf("%02d:%02d", 7+rng.Intn(12), 15*rng.Intn(4))
	}
	return draft
}

func (r *runner) createEvent(ctx context.Context, user *simulatedUser, rng *rand.Rand, viaREST bool) {
	draft := r.randomDraft(user, rng)
	if !viaREST {
		r.record("create", "ws", user.Calendar.Create(draft))
		return
	}
	var resp struct {
		Event contracts.Event `json:"event"`
	}
	_, err := r.requestJSON(ctx, http.MethodPost, r.cfg.PageURL+"api/events", draft, &resp, http.StatusCreated)
	if err == nil {
		user.addEvent(resp.Event.ID)
	}
	r.record("create", "rest", err)
}

func (r *runner) updateEvent(ctx context.Context, user *simulatedUser, rng *rand.Rand, eventID string, viaREST bool) {
	draft := r.randomDraft(user, rng)
	draft.ID = eventID
	if !viaREST {
		r.record("update", "ws", user.Calendar.Update(draft))
		return
	}
	status, err := r.requestJSON(ctx, http.MethodPut, r.cfg.PageURL+"api/events/"+eventID, draft, nil, http.StatusOK)
	if status == http.StatusNotFound {
		user.removeEvent(eventID)
	}
	r.record("update", "rest", err)
}

func (r *runner) deleteEvent(ctx context.Context, user *simulatedUser, eventID string, viaREST bool) {
	user.removeEvent(eventID)
	if !viaREST {
		r.record("delete", "ws", user.Calendar.Delete(eventID))
		return
	}
	_, err := r.requestJSON(ctx, http.MethodDelete, r.cfg.PageURL+"api/events/"+eventID, nil, nil, http.StatusOK, http.StatusNotFound)
	r.record("delete", "rest", err)
}

func (r *runner) record(action, via string, err error) {
	if err != nil {
		actionsTotal.WithLabelValues(action, via, "error").Inc()
		r.actionsError.Add(1)
		return
	}
	actionsTotal.WithLabelValues(action, via, "success").Inc()
	r.actionsSuccess.Add(1)
}

func (r *runner) requestJSON(ctx context.Context, method, requestURL string, payload any, out any, expectedStatuses ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "0", "error").Inc()
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	statusText := strconv.Itoa(resp.StatusCode)
	if readErr != nil {
		requestsTotal.WithLabelValues(method, statusText, "error").Inc()
		return resp.StatusCode, readErr
	}

	if isExpectedStatus(resp.StatusCode, expectedStatuses) {
		requestsTotal.WithLabelValues(method, statusText, "success").Inc()
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(method, statusText, "error").Inc()
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: success_actions=%d error_actions=%d frames=%d active_vus=%d",
				r.actionsSuccess.Load(),
				r.actionsError.Load(),
				r.framesSeen.Load(),
				r.activeVUs.Load(),
			)
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load generator metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load generator metrics server failed: %v", err)
	}
}

func (u *simulatedUser) addEvent(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.events {
		if existing == id {
			return
		}
	}
	u.events = append(u.events, id)
}

func (u *simulatedUser) randomEvent(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.events) == 0 {
		return "", false
	}
	return u.events[rng.Intn(len(u.events))], true
}

func (u *simulatedUser) removeEvent(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for idx, existing := range u.events {
		if existing != id {
			continue
		}
		u.events[idx] = u.events[len(u.events)-1]
		u.events = u.events[:len(u.events)-1]
		return
	}
}

func isExpectedStatus(status int, expected []int) bool {
	for _, e := range expected {
		if status == e {
			return true
		}
	}
	return false
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
