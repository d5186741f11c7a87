package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthProbe checks the processing service through the standard gRPC health
// protocol. It is optional: the streaming channel works without it.
type HealthProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	url     string
	service string
	logger  *zap.Logger
}

func NewHealthProbe(url, service string, logger *zap.Logger, extra ...grpc.DialOption) (*HealthProbe, error) {
	logger.Info("connecting to service health endpoint", zap.String("url", url))

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.Dial(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to health endpoint at %s: %w", url, err)
	}

	return &HealthProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		url:     url,
		service: service,
		logger:  logger,
	}, nil
}

// Check returns the serving status reported by the service.
func (hp *HealthProbe) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := hp.client.Check(ctx, &healthpb.HealthCheckRequest{Service: hp.service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", hp.url, err)
	}
	return resp.GetStatus(), nil
}

func (hp *HealthProbe) Healthy(ctx context.Context) bool {
	status, err := hp.Check(ctx)
	if err != nil {
		hp.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return status == healthpb.HealthCheckResponse_SERVING
}

func (hp *HealthProbe) Close() error {
	if hp.conn != nil {
		return hp.conn.Close()
	}
	return nil
}
