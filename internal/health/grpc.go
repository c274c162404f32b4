package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves grpc.health.v1 for one named service.
type GRPCServer struct {
	service string
	srv     *grpc.Server
	hs      *grpchealth.Server
	log     *slog.Logger
}

// NewGRPCServer starts NOT_SERVING for service and for the empty name.
func NewGRPCServer(service string, l *slog.Logger) *GRPCServer {
	if l == nil {
		l = slog.Default()
	}
	s := &GRPCServer{
		service: service,
		srv:     grpc.NewServer(),
		hs:      grpchealth.NewServer(),
		log:     l.With(slog.String("component", "grpc-health")),
	}
	healthpb.RegisterHealthServer(s.srv, s.hs)
	s.SetServing(false)
	return s
}

// SetServing flips the reported status.
func (s *GRPCServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", st)
	s.hs.SetServingStatus(s.service, st)
}

// Serve blocks serving on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.Info("grpc health listening", slog.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

// Watch polls probe every interval and mirrors it into the status until ctx
// is done.
func (s *GRPCServer) Watch(ctx context.Context, probe Probe, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	last := probe()
	s.SetServing(last)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ok := probe(); ok != last {
				s.log.Info("serving status changed", slog.Bool("serving", ok))
				last = ok
				s.SetServing(ok)
			}
		}
	}
}

// Stop marks everything NOT_SERVING and stops the server gracefully.
func (s *GRPCServer) Stop() {
	s.hs.Shutdown()
	s.srv.GracefulStop()
}
