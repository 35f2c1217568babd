package service

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// DispatcherService is the service name reported by the gRPC health server
const DispatcherService = "sip.dispatcher"

// HealthServer exposes dispatcher readiness over the standard gRPC health
// protocol. The dispatcher is serving while at least one destination is
// routable.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	ds     *dispatcher.Dispatcher
	logger *logger.Logger
}

// NewHealthServer creates the gRPC server and registers the health service
func NewHealthServer(ds *dispatcher.Dispatcher, log *logger.Logger) *HealthServer {
	hs := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		ds:     ds,
		logger: log.WithField("component", "grpc_health"),
	}
	healthpb.RegisterHealthServer(hs.server, hs.health)
	hs.Refresh()
	return hs
}

// Serve accepts connections on addr until Stop is called
func (hs *HealthServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	hs.logger.WithField("address", addr).Info("gRPC health server listening")
	return hs.server.Serve(lis)
}

// Stop marks every service as not serving and stops the server
func (hs *HealthServer) Stop() {
	hs.health.Shutdown()
	hs.server.GracefulStop()
}

// Refresh recomputes the serving status from the active destination tree
func (hs *HealthServer) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if routable(hs.ds) {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(DispatcherService, status)
}

// HandleDestinationEvent refreshes the status on every routability change
func (hs *HealthServer) HandleDestinationEvent(ctx context.Context, event domain.DestinationEvent) {
	hs.Refresh()
}

// Check answers a health query in process
func (hs *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := hs.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

func routable(ds *dispatcher.Dispatcher) bool {
	for _, set := range ds.Tree().Sets() {
		for _, info := range set.Destinations() {
			if !info.Flags.Skip() {
				return true
			}
		}
	}
	return false
}
