package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/config"
	"github.com/solovyov/newswire/internal/middleware"
	"github.com/solovyov/newswire/internal/news"
	"github.com/solovyov/newswire/internal/pipeline"
)

// dateLayout is the wire format for record date filters.
const dateLayout = "2006-01-02"

// maxQueryLimit caps page sizes requested through the API.
const maxQueryLimit = 200

// Probe is a named readiness check against a downstream dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the admin HTTP surface: health, metrics, record queries,
// and run control.
type Server struct {
	router   chi.Router
	store    news.Store
	runs     *pipeline.Supervisor
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	probes   []Probe
}

// NewServer wires the routes and middleware chain. A nil gatherer
// serves the default Prometheus registry.
func NewServer(
	store news.Store,
	runs *pipeline.Supervisor,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
	cfg config.APIConfig,
	probes ...Probe,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		store:    store,
		runs:     runs,
		gatherer: gatherer,
		logger:   logger.Named("api"),
		probes:   probes,
	}

	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(timeout))
	if reg, ok := gatherer.(prometheus.Registerer); ok {
		r.Use(middleware.NewMetrics(reg).Handler)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/records", s.listRecords)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/", s.listRuns)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz runs every probe; any failure demotes the service to 503 so a
// load balancer stops routing to it.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.probes))
	ready := true
	for _, probe := range s.probes {
		if err := probe.Check(r.Context()); err != nil {
			checks[probe.Name] = err.Error()
			ready = false
			continue
		}
		checks[probe.Name] = "ok"
	}
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("record query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record query failed")
		return
	}
	total, err := s.store.Count(r.Context(), filter)
	if err != nil {
		s.logger.Error("record count failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record query failed")
		return
	}
	if records == nil {
		records = []news.NewsRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	id, err := s.runs.Start()
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("run start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run start failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.Runs()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	info, ok := s.runs.Run(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func filterFromQuery(r *http.Request) (news.RecordFilter, error) {
	q := r.URL.Query()
	filter := news.RecordFilter{Category: q.Get("category")}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return news.RecordFilter{}, errors.New("from must be formatted YYYY-MM-DD")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return news.RecordFilter{}, errors.New("to must be formatted YYYY-MM-DD")
		}
		// Include the whole end day.
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return news.RecordFilter{}, errors.New("limit must be a non-negative integer")
		}
		if n > maxQueryLimit {
			n = maxQueryLimit
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return news.RecordFilter{}, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
