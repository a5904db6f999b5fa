package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/live"
	"kickoff/internal/metrics"
	"kickoff/internal/ports"
	"kickoff/internal/reader"
	"kickoff/internal/scheduler"
	"kickoff/internal/stream"
	"kickoff/internal/syncer"
	"kickoff/internal/types"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const defaultHeartbeat = 15 * time.Second

// Deps are the components the HTTP surface exposes. Limiter may be nil to
// disable inbound rate limiting.
type Deps struct {
	Reader    *reader.Reader
	Store     *cache.Store
	Syncer    *syncer.Syncer
	Scheduler *scheduler.AutoScheduler
	Detector  *live.Detector
	Streams   *stream.Registry
	Limiter   ports.CounterStore
	Clock     clock.Clock
	Location  *time.Location
	Leagues   []types.League
	API       types.APIConfig
	// Heartbeat is the comment interval on live streams.
	Heartbeat time.Duration
}

type Handler struct {
	Deps
	leagueIDs []int
}

func NewHandler(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = defaultHeartbeat
	}
	ids := make([]int, len(d.Leagues))
	for i, l := range d.Leagues {
		ids[i] = l.ID
	}
	return &Handler{Deps: d, leagueIDs: ids}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_ = writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	h.route(mux, "GET /fixtures", "fixtures", false, h.handleFixtures)
	h.route(mux, "GET /fixtures/range", "fixtures_range", false, h.handleFixtureRange)
	h.route(mux, "GET /cache/stats", "cache_stats", false, h.handleCacheStats)
	h.route(mux, "POST /cache/cleanup", "cache_cleanup", true, h.handleCacheCleanup)
	h.route(mux, "GET /sync/stats", "sync_stats", false, h.handleSyncStats)
	h.route(mux, "POST /sync/force", "sync_force", true, h.handleForceSync)
	h.route(mux, "DELETE /sync/queue", "sync_queue", true, h.handleClearQueue)
	h.route(mux, "GET /scheduler/status", "scheduler_status", false, h.handleSchedulerStatus)
	h.route(mux, "PUT /scheduler/config", "scheduler_config", true, h.handleSchedulerConfig)
	h.route(mux, "GET /live/stats", "live_stats", false, h.handleLiveStats)
	h.route(mux, "POST /live/scan", "live_scan", true, h.handleLiveScan)
	h.route(mux, "GET /live/stream", "live_stream", false, h.handleLiveStream)
	return mux
}

// route registers fn behind the inbound rate limit, the admin key check for
// mutating routes, and request metrics.
func (h *Handler) route(mux *http.ServeMux, pattern, name string, admin bool, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			metrics.HTTPRequests.WithLabelValues(name, strconv.Itoa(rec.code)).Inc()
		}()
		if !h.allow(r) {
			http.Error(rec, "rate limited", http.StatusTooManyRequests)
			return
		}
		if admin && !h.authorized(r) {
			http.Error(rec, "admin key required", http.StatusUnauthorized)
			return
		}
		fn(rec, r)
	})
}

func (h *Handler) allow(r *http.Request) bool {
	if h.Limiter == nil || h.API.InboundRPM <= 0 {
		return true
	}
	ip := clientIP(r)
	ok, err := h.Limiter.Acquire(r.Context(), "ip:"+ip, h.API.InboundRPM, time.Minute)
	if err != nil {
		log.WithError(err).WithField("ip", ip).Warn("inbound rate limiter unavailable, allowing request")
		return true
	}
	return ok
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.API.AdminKey == "" {
		return true
	}
	got := r.Header.Get(types.AdminKeyHdrName)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.API.AdminKey)) == 1
}

func (h *Handler) today() string {
	return h.Clock.Now().In(h.Location).Format(types.DateLayout)
}

func validDate(s string) bool {
	_, err := time.Parse(types.DateLayout, s)
	return err == nil
}

// parseIDs reads a comma-separated id list.
func parseIDs(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

type fixturesResponse struct {
	Date     string          `json:"date,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Count    int             `json:"count"`
	Fixtures []types.Fixture `json:"fixtures"`
}

func (h *Handler) handleFixtures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		date = h.today()
	}
	if !validDate(date) {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	leagues := h.leagueIDs
	if raw := q.Get("leagues"); raw != "" {
		ids, err := parseIDs(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		leagues = ids
	}
	if len(leagues) == 0 {
		http.Error(w, "no leagues requested", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	fixtures, err := h.Reader.GetMultipleLeaguesFixtures(ctx, date, leagues)
	if err == nil && q.Get("details") == "true" {
		fixtures, err = h.Reader.GetMatchesWithDetails(ctx, fixtures)
	}
	if err == nil {
		fixtures, err = h.Reader.Filter(fixtures, q.Get("filter"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, fixturesResponse{Date: date, Count: len(fixtures), Fixtures: nonNil(fixtures)})
}

func (h *Handler) handleFixtureRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	league, err := strconv.Atoi(q.Get("league"))
	if err != nil || league <= 0 {
		http.Error(w, "league must be a positive id", http.StatusBadRequest)
		return
	}
	from, to := q.Get("from"), q.Get("to")
	if !validDate(from) || !validDate(to) || to < from {
		http.Error(w, "from and to must be YYYY-MM-DD with from <= to", http.StatusBadRequest)
		return
	}
	fixtures, err := h.Reader.GetFixturesByDateRangeAndLeague(r.Context(), from, to, league)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, fixturesResponse{From: from, To: to, Count: len(fixtures), Fixtures: nonNil(fixtures)})
}

func nonNil(f []types.Fixture) []types.Fixture {
	if f == nil {
		return []types.Fixture{}
	}
	return f
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, h.Store.Stats(r.Context()))
}

func (h *Handler) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{"deleted": h.Store.Cleanup(r.Context())})
}

func (h *Handler) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, h.Syncer.GetStats(r.Context()))
}

// handleForceSync queues a forced sync. The queue drains in the background
// unless wait=true, in which case the drain result is returned.
func (h *Handler) handleForceSync(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = syncer.KindToday
	}
	if r.URL.Query().Get("wait") == "true" {
		res, err := h.Syncer.ForceSync(r.Context(), kind)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = writeJSON(w, http.StatusOK, res)
		return
	}
	n, err := h.Syncer.QueueForced(kind)
	if err != nil {
		writeError(w, err)
		return
	}
	go h.Syncer.ForceDrain(context.WithoutCancel(r.Context()))
	_ = writeJSON(w, http.StatusAccepted, map[string]any{"kind": kind, "queued": n})
}

func (h *Handler) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{"dropped": h.Syncer.ClearQueue()})
}

func (h *Handler) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, h.Scheduler.GetStatus(r.Context()))
}

// schedulerConfigPatch is a partial scheduler config. Durations use Go
// duration syntax ("30m").
type schedulerConfigPatch struct {
	Enabled              *bool   `json:"enabled"`
	QuickInterval        *string `json:"quick_interval"`
	SmartInterval        *string `json:"smart_interval"`
	FullInterval         *string `json:"full_interval"`
	HealthInterval       *string `json:"health_interval"`
	MaxConcurrent        *int    `json:"max_concurrent"`
	DailyCallCeiling     *int    `json:"daily_call_ceiling"`
	LowActivityStartHour *int    `json:"low_activity_start_hour"`
	LowActivityEndHour   *int    `json:"low_activity_end_hour"`
}

func (p schedulerConfigPatch) apply(cfg types.SchedulerConfig) (types.SchedulerConfig, error) {
	durations := []struct {
		in  *string
		out *time.Duration
	}{
		{p.QuickInterval, &cfg.QuickInterval},
		{p.SmartInterval, &cfg.SmartInterval},
		{p.FullInterval, &cfg.FullInterval},
		{p.HealthInterval, &cfg.HealthInterval},
	}
	for _, d := range durations {
		if d.in == nil {
			continue
		}
		v, err := time.ParseDuration(*d.in)
		if err != nil {
			return cfg, types.Err(types.ErrInvalidInput, err, "duration %q", *d.in)
		}
		*d.out = v
	}
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.MaxConcurrent != nil {
		cfg.MaxConcurrent = *p.MaxConcurrent
	}
	if p.DailyCallCeiling != nil {
		cfg.DailyCallCeiling = *p.DailyCallCeiling
	}
	if p.LowActivityStartHour != nil {
		cfg.LowActivityStartHour = *p.LowActivityStartHour
	}
	if p.LowActivityEndHour != nil {
		cfg.LowActivityEndHour = *p.LowActivityEndHour
	}
	return cfg, nil
}

func (h *Handler) handleSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()
	var patch schedulerConfigPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	cfg, err := patch.apply(h.Scheduler.GetStatus(ctx).Config)
	if err == nil {
		err = h.Scheduler.UpdateConfig(context.WithoutCancel(ctx), cfg)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, h.Scheduler.GetStatus(ctx))
}

func (h *Handler) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, h.Detector.GetStats())
}

func (h *Handler) handleLiveScan(w http.ResponseWriter, r *http.Request) {
	res, err := h.Detector.ForceScan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, res)
}

// handleLiveStream serves live updates as server-sent events until the client
// goes away or the session is swept.
func (h *Handler) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	var leagues []int
	if raw := r.URL.Query().Get("leagues"); raw != "" {
		ids, err := parseIDs(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		leagues = ids
	}
	sess := h.Streams.Open(leagues)
	defer h.Streams.Close(sess.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	send := func(event string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
			return err
		}
		return rc.Flush()
	}
	if err := send("hello", map[string]any{"session": sess.ID}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()
	lg := log.WithField("session", sess.ID)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			lg.Debug("stream session closed by registry")
			return
		case u := <-sess.Updates():
			if err := send(u.Kind, u); err != nil {
				lg.WithError(err).Debug("stream write failed")
				return
			}
			h.Streams.Touch(sess.ID)
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			h.Streams.Touch(sess.ID)
		}
	}
}

// writeError maps the error taxonomy to status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrServiceUnavailable), errors.Is(err, types.ErrMissingAPIKey):
		http.Error(w, "service unavailable: provider is not configured", http.StatusServiceUnavailable)
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// statusRecorder remembers the status code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.code, s.wroteHeader = code, true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// clientIP extracts the real client IP from X-Forwarded-For or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If SplitHostPort fails, return the RemoteAddr as-is
		return r.RemoteAddr
	}
	return host
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
