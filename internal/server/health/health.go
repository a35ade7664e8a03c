// Package healthserver reports dependency readiness over the gRPC health protocol.
package healthserver

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe returns nil while the dependency is usable.
type Probe func(ctx context.Context) error

// Server maps each probe to a health service name. The empty service name
// is SERVING only while every probe passes.
type Server struct {
	hs      *health.Server
	probes  map[string]Probe
	timeout time.Duration
	log     *zap.Logger
}

func New(probes map[string]Probe, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{hs: health.NewServer(), probes: probes, timeout: 2 * time.Second, log: log}
	for name := range probes {
		s.hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	s.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to g.
func (s *Server) Register(g *grpc.Server) { healthpb.RegisterHealthServer(g, s.hs) }

// Check runs every probe once and publishes the results.
func (s *Server) Check(ctx context.Context) map[string]error {
	names := make([]string, 0, len(s.probes))
	for n := range s.probes {
		names = append(names, n)
	}
	sort.Strings(names)

	res := make(map[string]error, len(names))
	overall := healthpb.HealthCheckResponse_SERVING
	for _, n := range names {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.probes[n](pctx)
		cancel()
		res[n] = err

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = st
			s.log.Warn("health probe failed", zap.String("service", n), zap.Error(err))
		}
		s.hs.SetServingStatus(n, st)
	}
	s.hs.SetServingStatus("", overall)
	return res
}

// Run checks every interval until ctx is done, then marks everything NOT_SERVING.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.hs.Shutdown()
			return
		case <-t.C:
			s.Check(ctx)
		}
	}
}
