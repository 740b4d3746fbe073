package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/yanet-platform/vrouter/controlplane/internal/xgrpc"
)

type gatewayOptions struct {
	Log      *zap.SugaredLogger
	LogLevel *zap.AtomicLevel
}

func newGatewayOptions() *gatewayOptions {
	return &gatewayOptions{
		Log: zap.NewNop().Sugar(),
	}
}

// GatewayOption is a function that configures the Gateway.
type GatewayOption func(*gatewayOptions)

// WithLog sets the logger for the Gateway.
func WithLog(log *zap.SugaredLogger) GatewayOption {
	return func(o *gatewayOptions) {
		o.Log = log
	}
}

// WithAtomicLogLevel sets the atomic logger level for the Gateway.
//
// This level can be changed at runtime.
func WithAtomicLogLevel(level *zap.AtomicLevel) GatewayOption {
	return func(o *gatewayOptions) {
		o.LogLevel = level
	}
}

// Gateway is the gRPC API of the router.
//
// It exposes read-only snapshots of the routing table, the ARP cache and
// the interfaces, and allows changing the log level at runtime.
type Gateway struct {
	cfg    *Config
	server *grpc.Server
	log    *zap.SugaredLogger
}

// NewGateway creates a new Gateway API.
func NewGateway(cfg *Config, router Router, options ...GatewayOption) *Gateway {
	opts := newGatewayOptions()
	for _, o := range options {
		o(opts)
	}
	log := opts.Log

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(xgrpc.AccessLogInterceptor(log)),
	)

	inspectService := NewInspectService(router)
	loggingService := NewLoggingService(opts.LogLevel, log)

	server.RegisterService(&InspectServiceDesc, inspectService)
	log.Infow("registered service", zap.String("service", fmt.Sprintf("%T", inspectService)))

	server.RegisterService(&LoggingServiceDesc, loggingService)
	log.Infow("registered service", zap.String("service", fmt.Sprintf("%T", loggingService)))

	return &Gateway{
		cfg:    cfg,
		server: server,
		log:    log,
	}
}

// Run runs the gateway API until the specified context is canceled.
func (m *Gateway) Run(ctx context.Context) error {
	m.log.Infof("starting gRPC gateway")

	listener, err := net.Listen("tcp", m.cfg.Server.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC listener: %w", err)
	}

	return m.Serve(ctx, listener)
}

// Serve accepts connections on the listener until the specified context is
// canceled.
func (m *Gateway) Serve(ctx context.Context, listener net.Listener) error {
	m.log.Infow("exposing gRPC gateway", zap.Stringer("addr", listener.Addr()))

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		err := m.server.Serve(listener)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	})

	wg.Go(func() error {
		<-ctx.Done()

		m.log.Infow("stopping gRPC gateway", zap.Stringer("addr", listener.Addr()))
		defer m.log.Infow("stopped gRPC gateway", zap.Stringer("addr", listener.Addr()))

		m.server.GracefulStop()
		return nil
	})

	return wg.Wait()
}
