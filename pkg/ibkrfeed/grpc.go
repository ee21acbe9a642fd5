package ibkrfeed

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// GatewayService is the gRPC health service tracking the gateway session.
const GatewayService = "ibkrfeed.Gateway"

// CheckHealth queries the gRPC health service at addr for service and
// returns the response rendered as JSON.
func CheckHealth(ctx context.Context, addr, service string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("health check %q: %w", service, err)
	}
	b, err := protojson.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encoding health response: %w", err)
	}
	return string(b), nil
}
