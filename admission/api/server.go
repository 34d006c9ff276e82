// Package api serves the operator HTTP API of the admission controller, along with
// the admin endpoints and a gRPC health service.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/admission/server"
	"github.com/twitter/admission/common/endpoints"
	"github.com/twitter/admission/common/stats"
)

// Controller is the part of server.Controller the API exposes.
type Controller interface {
	Submit(def domain.QueryDefinition) (domain.QueryID, error)
	Cancel(id domain.QueryID) error
	Info(id domain.QueryID) (domain.QueryInfo, error)
	List() []domain.QueryInfo
	QueuedQueries() []server.DispatchQueueEntry
	LatestSnapshot() *server.TaskCountSnapshot
	Thresholds() domain.Thresholds
}

var _ Controller = (*server.Controller)(nil)

type Options struct {
	// Address the HTTP API listens on.
	HttpAddr string

	// Address of the gRPC health service, empty disables it.
	GrpcAddr string

	// Concurrent HTTP connections, 0 is unlimited.
	MaxConns int

	// Sustained submissions per second and burst size. A rate of 0 is unlimited.
	SubmitRate  float64
	SubmitBurst int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps the HTTP router and the gRPC health server.
type Server struct {
	opts       Options
	controller Controller
	limiter    *rate.Limiter
	stat       stats.StatsReceiver

	router     *mux.Router
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	mu           sync.Mutex
	httpListener net.Listener
	grpcListener net.Listener
}

func NewServer(opts Options, controller Controller, stat stats.StatsReceiver) *Server {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	limit, burst := rate.Inf, opts.SubmitBurst
	if opts.SubmitRate > 0 {
		limit = rate.Limit(opts.SubmitRate)
		if burst <= 0 {
			burst = 1
		}
	}
	s := &Server{
		opts:       opts,
		controller: controller,
		limiter:    rate.NewLimiter(limit, burst),
		stat:       stat,
		router:     mux.NewRouter(),
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/v1/query", s.listQueries).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/query", s.submitQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/query/{id}", s.getQuery).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/query/{id}", s.cancelQuery).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/cluster", s.clusterStatus).Methods(http.MethodGet)
	endpoints.RegisterAdmin(s.router, s.stat, "/v1/query", "/v1/query/{id}", "/v1/cluster")
}

// Handler is the instrumented HTTP handler, usable without Start.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer s.stat.Latency(stats.ApiRequestLatency_ms).Time().Stop()
		s.stat.Counter(stats.ApiRequestCounter).Inc(1)
		log.WithFields(
			log.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("API request")
		s.router.ServeHTTP(w, r)
	})
}

// Start listens on the configured addresses and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	httpListener, err := net.Listen("tcp", s.opts.HttpAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.opts.HttpAddr)
	}
	if s.opts.MaxConns > 0 {
		httpListener = netutil.LimitListener(httpListener, s.opts.MaxConns)
	}
	s.httpListener = httpListener

	if s.opts.GrpcAddr != "" {
		grpcListener, err := net.Listen("tcp", s.opts.GrpcAddr)
		if err != nil {
			httpListener.Close()
			return errors.Wrapf(err, "listening on %s", s.opts.GrpcAddr)
		}
		s.grpcListener = grpcListener
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			if err := s.grpcServer.Serve(grpcListener); err != nil {
				log.WithFields(log.Fields{"err": err}).Error("gRPC health server stopped")
			}
		}()
		log.Infof("Serving gRPC health on %s", grpcListener.Addr())
	}

	go func() {
		if err := s.httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			log.WithFields(log.Fields{"err": err}).Error("HTTP API server stopped")
		}
	}()
	log.Infof("Serving admission API on %s", httpListener.Addr())
	return nil
}

// HttpAddr is the bound HTTP address, useful when listening on port 0.
func (s *Server) HttpAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

func (s *Server) GrpcAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Stop reports NOT_SERVING, then shuts both servers down.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	var result error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "shutting down HTTP API"))
	}
	return result
}

func (s *Server) listQueries(w http.ResponseWriter, r *http.Request) {
	infos := s.controller.List()
	if stateParam := r.URL.Query().Get("state"); stateParam != "" {
		state, err := domain.ParseQueryState(stateParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filtered := []domain.QueryInfo{}
		for _, info := range infos {
			if info.State == state {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) submitQuery(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.stat.Counter(stats.ApiRateLimitedCounter).Inc(1)
		writeError(w, http.StatusTooManyRequests, errors.New("too many submissions, retry later"))
		return
	}
	var def domain.QueryDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decoding query definition"))
		return
	}
	id, err := s.controller.Submit(def)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{ID: id})
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	info, err := s.controller.Info(domain.QueryID(mux.Vars(r)["id"]))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) cancelQuery(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Cancel(domain.QueryID(mux.Vars(r)["id"])); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clusterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ClusterStatus{
		Thresholds: makeThresholdsView(s.controller.Thresholds()),
		Snapshot:   makeSnapshotView(s.controller.LatestSnapshot()),
		Queued:     makeQueuedQueries(s.controller.QueuedQueries()),
	})
}

func statusOf(err error) int {
	switch errors.Cause(err) {
	case domain.ErrQueryNotFound:
		return http.StatusNotFound
	case domain.ErrInvalidTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithFields(log.Fields{"err": err}).Debug("Writing API response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
