package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"taskclock/internal/domain"
	"taskclock/internal/jobs"
	"taskclock/internal/journal"
	"taskclock/internal/scheduler"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

type Server struct {
	r       *chi.Mux
	sched   *scheduler.Scheduler
	catalog *jobs.Catalog
	runs    journal.Repository
	log     zerolog.Logger
}

type Options struct {
	Scheduler   *scheduler.Scheduler
	Catalog     *jobs.Catalog
	Runs        journal.Repository // nil disables the journal endpoints
	Logger      zerolog.Logger
	EnableDebug bool
}

func NewServer(opt Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(opt.Logger), middleware.Recoverer)

	s := &Server{r: r, sched: opt.Scheduler, catalog: opt.Catalog, runs: opt.Runs, log: opt.Logger}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.createTask)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Delete("/tasks/{id}", s.deleteTask)
		r.Post("/tasks/{id}/execute", s.executeTask)
		r.Post("/tasks/{id}/pause", s.pauseTask)
		r.Post("/tasks/{id}/unpause", s.unpauseTask)
		r.Get("/tasks/{id}/runs", s.taskRuns)
		r.Get("/runs", s.recentRuns)
		r.Get("/stats", s.stats)
		r.Get("/handlers", s.listHandlers)
		r.Put("/mode", s.setMode)
	})

	// Debug routes (pprof)
	if opt.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "taskclock_up 1")
	fmt.Fprintf(w, "taskclock_tasks %d\n", s.sched.Len())
	fmt.Fprintf(w, "taskclock_in_flight %d\n", s.sched.InFlight())
	fmt.Fprintf(w, "taskclock_listeners %d\n", s.sched.Events().Listeners())
	fmt.Fprintf(w, "taskclock_sweep_interval_seconds %g\n", s.sched.SweepInterval().Seconds())
	fmt.Fprintf(w, "taskclock_mode{mode=%q} 1\n", s.sched.Mode())
}

type taskView struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Created     time.Time       `json:"created"`
	NextExecute time.Time       `json:"next_execute"`
	Interval    bool            `json:"interval"`
	Cron        string          `json:"cron,omitempty"`
	PeriodMs    int64           `json:"period_ms,omitempty"`
	Infinite    bool            `json:"infinite,omitempty"`
	AfterDone   bool            `json:"after_done,omitempty"`
	Remaining   int             `json:"remaining,omitempty"`
	Triggered   int             `json:"triggered"`
	Armed       bool            `json:"armed"`
	Params      json.RawMessage `json:"params,omitempty"`
}

func viewOf(info scheduler.Info) taskView {
	v := taskView{
		ID:          info.ID,
		Type:        info.Type,
		Status:      string(info.Status),
		Created:     info.Created,
		NextExecute: info.NextExecute,
		Interval:    info.IsInterval,
		Cron:        info.Cron,
		PeriodMs:    info.Interval.Milliseconds(),
		Triggered:   info.Triggered,
		Armed:       info.Armed,
	}
	if info.IsInterval {
		v.Infinite = info.Infinite
		v.AfterDone = info.NextAfterDone
		if !info.Infinite {
			v.Remaining = info.Remaining
		}
	}
	return v
}

func taskViewOf(t *scheduler.Task) taskView {
	v := viewOf(t.Info())
	if p, ok := t.Params().(json.RawMessage); ok {
		v.Params = p
	}
	return v
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var spec domain.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if spec.Handler == "" {
		http.Error(w, "handler is required", http.StatusBadRequest)
		return
	}
	t, err := s.catalog.Create(spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskViewOf(t))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	infos := s.sched.Tasks()
	out := make([]taskView, 0, len(infos))
	for _, info := range infos {
		out = append(out, viewOf(info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *scheduler.Task {
	t := s.sched.Lookup(chi.URLParam(r, "id"))
	if t == nil {
		writeError(w, scheduler.ErrNotFound)
	}
	return t
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	if t := s.lookup(w, r); t != nil {
		writeJSON(w, http.StatusOK, taskViewOf(t))
	}
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Destroy(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resultView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Response    any       `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	DelayMs     int64     `json:"delay_ms"`
	ExecutionMs int64     `json:"execution_ms"`
	NextExecute time.Time `json:"next_execute"`
	Status      string    `json:"status"`
}

func (s *Server) executeTask(w http.ResponseWriter, r *http.Request) {
	t := s.lookup(w, r)
	if t == nil {
		return
	}
	res, err := t.Execute(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := resultView{
		ID:          res.ID,
		Type:        res.Type,
		Response:    res.Response,
		DelayMs:     res.Delay.Milliseconds(),
		ExecutionMs: res.ExecutionTime.Milliseconds(),
		NextExecute: res.NextExecute,
		Status:      string(t.Status()),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	changed, err := s.sched.Pause(chi.URLParam(r, "id"))
	s.writeToggle(w, changed, err)
}

func (s *Server) unpauseTask(w http.ResponseWriter, r *http.Request) {
	changed, err := s.sched.Unpause(chi.URLParam(r, "id"))
	s.writeToggle(w, changed, err)
}

func (s *Server) writeToggle(w http.ResponseWriter, changed bool, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) recentRuns(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	runs, err := s.runs.ListRecent(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) taskRuns(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	runs, err := s.runs.ListByTask(r.Context(), chi.URLParam(r, "id"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"tasks":     s.sched.Len(),
		"in_flight": s.sched.InFlight(),
		"mode":      s.sched.Mode(),
	}
	if s.runs != nil {
		types, err := s.runs.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out["types"] = types
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listHandlers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Handlers())
}

type modeReq struct {
	Mode       string `json:"mode"`
	IntervalMs int64  `json:"interval_ms"`
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch scheduler.Mode(req.Mode) {
	case scheduler.ModeTimeout:
		s.sched.UseTimeouts()
	case scheduler.ModeInterval:
		s.sched.UseInterval(time.Duration(req.IntervalMs) * time.Millisecond)
	default:
		http.Error(w, "mode must be timeout or interval", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, modeReq{
		Mode:       string(s.sched.Mode()),
		IntervalMs: s.sched.SweepInterval().Milliseconds(),
	})
}

func (s *Server) journalEnabled(w http.ResponseWriter) bool {
	if s.runs == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultRunLimit
	}
	return min(n, maxRunLimit)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrTaskBusy):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrTaskDone):
		status = http.StatusGone
	case errors.Is(err, scheduler.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, scheduler.ErrInvalidParams),
		errors.Is(err, scheduler.ErrInvalidCron),
		errors.Is(err, scheduler.ErrNotInterval),
		errors.Is(err, jobs.ErrUnknownHandler):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
