package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"SettleLedger/internal/event"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// RecordReader serves committed records.
type RecordReader interface {
	GetRecord(ctx context.Context, kind, id string) (*query.Record, error)
}

// EnvelopeInjector queues a manually submitted envelope for dispatch.
type EnvelopeInjector interface {
	Inject(ctx context.Context, env *event.Envelope) (string, error)
}

// Addrs are the listen addresses. An empty address disables that listener.
type Addrs struct {
	GRPC    string
	HTTP    string
	Metrics string
}

// Deps holds everything the operational surface serves.
type Deps struct {
	Records  RecordReader
	Injector EnvelopeInjector
	Health   *observability.HealthChecker
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// Server wraps the gRPC server (health + reflection), the HTTP gateway and
// the metrics listener.
type Server struct {
	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	httpServer    *http.Server
	metricsServer *http.Server
	addrs         Addrs
	deps          Deps
	logger        zerolog.Logger
}

func New(addrs Addrs, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	grpcHealth := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	if deps.Health == nil {
		deps.Health = observability.NewHealthChecker()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		grpcServer: grpcServer,
		grpcHealth: grpcHealth,
		addrs:      addrs,
		deps:       deps,
		logger:     deps.Logger,
	}
}

// SetServing flips both the readiness probe and the gRPC health status.
func (s *Server) SetServing(serving bool) {
	s.deps.Health.SetReady(serving)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.grpcHealth.SetServingStatus("", status)
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	if s.addrs.GRPC == "" {
		return nil
	}
	lis, err := net.Listen("tcp", s.addrs.GRPC)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcHealth.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.addrs.GRPC).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler builds the HTTP gateway: record lookup, envelope injection and
// health probes.
func (s *Server) Handler() (http.Handler, error) {
	// Pool pairs and tick keys contain "/", so keys arrive as %2F and are
	// decoded by the handler after matching.
	mux := runtime.NewServeMux(runtime.WithUnescapingMode(runtime.UnescapingModeAllExceptSlash))

	if err := mux.HandlePath(http.MethodGet, "/v1/records/{kind}/{id}", s.getRecord); err != nil {
		return nil, fmt.Errorf("register record route: %w", err)
	}
	if err := mux.HandlePath(http.MethodPost, "/v1/envelopes", s.injectEnvelope); err != nil {
		return nil, fmt.Errorf("register envelope route: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway starts the HTTP gateway (blocking).
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	if s.addrs.HTTP == "" {
		return nil
	}
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.addrs.HTTP,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.serve(ctx, s.httpServer, "HTTP gateway")
}

// StartMetrics serves /metrics on its own listener (blocking).
func (s *Server) StartMetrics(ctx context.Context) error {
	if s.addrs.Metrics == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{
		Addr:              s.addrs.Metrics,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.serve(ctx, s.metricsServer, "metrics server")
}

func (s *Server) serve(ctx context.Context, srv *http.Server, name string) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Str("server", name).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Str("server", name).Msg("shutdown incomplete")
		}
	}()

	s.logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
