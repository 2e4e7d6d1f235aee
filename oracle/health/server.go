package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/GPTx-global/near-oracle/oracle/log"
	"github.com/GPTx-global/near-oracle/oracle/types"
)

// SchedulerCheck is the status name written from cycle results.
const SchedulerCheck = "scheduler"

// CycleStatus is the JSON view of the last cycle.
type CycleStatus struct {
	Seq       uint64    `json:"seq"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Requests  int       `json:"requests"`
	Found     bool      `json:"found"`
	MatchID   string    `json:"match_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

func NewCycleStatus(res types.CycleResult) CycleStatus {
	status := CycleStatus{
		Seq:       res.Seq,
		StartedAt: res.StartedAt,
		Duration:  res.Duration.String(),
		Requests:  res.Requests,
		Found:     res.Match.Found,
		MatchID:   res.Match.ID,
		ErrorKind: types.ErrorKind(res.Err),
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}

	return status
}

// Server exposes /health, /status and /metrics over HTTP.
type Server struct {
	checker   *HealthChecker
	sink      *metrics.InmemSink
	lastCycle atomic.Pointer[CycleStatus]

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewServer(checker *HealthChecker, sink *metrics.InmemSink) *Server {
	return &Server{checker: checker, sink: sink}
}

// ObserveCycle records a cycle result. It is used as a scheduler observer.
func (s *Server) ObserveCycle(res types.CycleResult) {
	status := NewCycleStatus(res)
	s.lastCycle.Store(&status)
	s.checker.SetStatus(SchedulerCheck, res.Err)
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)
}

// Start listens on addr and serves in the background. Use ":0" for an
// ephemeral port and Addr to read it back.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("health server already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("health server failed: %v", err)
		}
	}(s.srv, s.done)

	log.Infof("health server listening on %s", listener.Addr())

	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	<-done

	return err
}

type healthResponse struct {
	Healthy bool                    `json:"healthy"`
	Checks  map[string]HealthStatus `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Healthy: s.checker.IsHealthy(),
		Checks:  s.checker.GetStatus(),
	}

	code := http.StatusOK
	if !res.Healthy {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.lastCycle.Load()
	if status == nil {
		http.Error(w, "no cycle has run yet", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		http.Error(w, "metrics are disabled", http.StatusNotFound)
		return
	}

	summary, err := s.sink.DisplayMetrics(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}
