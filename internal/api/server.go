package api

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/store"
)

type Server struct {
	store     *store.Store
	analysis  *analysis.Service
	port      string
	loc       *time.Location
	defaults  analysis.Request
	accessLog io.Writer
}

// NewServer builds the HTTP API. The store may be nil, in which case health
// and ingest endpoints report no cache information.
func NewServer(st *store.Store, svc *analysis.Service, port string, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		store:    st,
		analysis: svc,
		port:     port,
		loc:      loc,
		defaults: analysis.Request{
			Provider:  "open-meteo",
			Latitude:  12.9716,
			Longitude: 77.5946,
			Name:      "Bengaluru",
			Policy:    "two-factor",
		},
		accessLog: os.Stdout,
	}
}

// SetDefaults sets the provider, location and policy used when a request
// leaves them out.
func (s *Server) SetDefaults(req analysis.Request) {
	s.defaults = req
}

// SetAccessLog redirects the combined access log.
func (s *Server) SetAccessLog(w io.Writer) {
	s.accessLog = w
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/policies", s.handleAPIPolicies).Methods(http.MethodGet)
	api.HandleFunc("/providers", s.handleAPIProviders).Methods(http.MethodGet)
	api.HandleFunc("/analysis", s.handleAPIAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/ingest", s.handleAPIIngest).Methods(http.MethodGet)

	var h http.Handler = r
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
	h = handlers.CombinedLoggingHandler(s.accessLog, h)
	return h
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
