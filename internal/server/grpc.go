package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "calcpipe"

// readinessInterval is how often WatchReadiness polls the pipeline.
const readinessInterval = 250 * time.Millisecond

// GRPCServer hosts the standard gRPC health service.
type GRPCServer struct {
	server       *grpc.Server
	healthServer *health.Server
	log          *slog.Logger
}

// NewGRPCServer creates the server. Both statuses start NOT_SERVING.
func NewGRPCServer(log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	s := grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)

	g := &GRPCServer{server: s, healthServer: healthServer, log: log.With("component", "grpc")}
	g.setServing(false)
	return g
}

// Listen binds port and serves in the background.
func (g *GRPCServer) Listen(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	g.log.Info("gRPC health server starting", "address", addr)
	go func() {
		if err := g.Serve(lis); err != nil {
			g.log.Error("gRPC server failed", "error", err)
		}
	}()
	return nil
}

// Serve blocks serving lis.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// WatchReadiness mirrors ready() into the health status until ctx ends.
func (g *GRPCServer) WatchReadiness(ctx context.Context, ready func() bool) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	serving := false
	for {
		if now := ready(); now != serving {
			serving = now
			g.setServing(serving)
			g.log.Info("Health status changed", "serving", serving)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *GRPCServer) setServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	g.healthServer.SetServingStatus("", status)
	g.healthServer.SetServingStatus(ServiceName, status)
}

// Stop marks the service NOT_SERVING and stops gracefully, forcing after
// five seconds.
func (g *GRPCServer) Stop() {
	g.log.Info("Stopping gRPC server")
	g.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		g.log.Warn("gRPC server forced to stop after timeout")
		g.server.Stop()
	}
}
