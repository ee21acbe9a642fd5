package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ibkrfeed/internal/connection"
)

// GatewayService is the health service name whose status follows the
// persistent gateway session. The empty service name reports the process.
const GatewayService = "ibkrfeed.Gateway"

// StateSource publishes persistent session state changes.
type StateSource interface {
	State() connection.State
	Subscribe() (int, <-chan connection.State)
	Unsubscribe(id int)
}

func registerHealth(gs *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(GatewayService, healthpb.HealthCheckResponse_UNKNOWN)
}

// servingStatus maps a session state onto a health status. Without a managed
// session the gateway is reported as serving since fetches dial on demand.
func servingStatus(st connection.State, managed bool) healthpb.HealthCheckResponse_ServingStatus {
	if !managed {
		return healthpb.HealthCheckResponse_SERVING
	}
	switch st {
	case connection.Connected:
		return healthpb.HealthCheckResponse_SERVING
	case connection.Connecting, connection.Reconnecting:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// followStates mirrors session state into the health server until ctx ends.
func (s *Server) followStates(ctx context.Context) {
	if s.states == nil {
		s.health.SetServingStatus(GatewayService, servingStatus(connection.Disconnected, false))
		return
	}
	id, ch := s.states.Subscribe()
	defer s.states.Unsubscribe(id)

	s.health.SetServingStatus(GatewayService, servingStatus(s.states.State(), true))
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			s.log.Debug("gateway state", "state", st.String())
			s.health.SetServingStatus(GatewayService, servingStatus(st, true))
		}
	}
}
