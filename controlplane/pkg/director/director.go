package director

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/vrouter/controlplane/internal/gateway"
	"github.com/yanet-platform/vrouter/devices"
	"github.com/yanet-platform/vrouter/modules/pdump"
	"github.com/yanet-platform/vrouter/modules/router"
	"github.com/yanet-platform/vrouter/modules/router/iface"
)

type options struct {
	Log      *zap.SugaredLogger
	LogLevel *zap.AtomicLevel
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// DirectorOption is a function that configures the router director.
type DirectorOption func(*options)

// WithLog sets the logger for the router director.
func WithLog(log *zap.SugaredLogger) DirectorOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithAtomicLogLevel sets the atomic logger level for the router director.
//
// This level can be changed at runtime.
func WithAtomicLogLevel(level *zap.AtomicLevel) DirectorOption {
	return func(o *options) {
		o.LogLevel = level
	}
}

// Director is the router director.
//
// This is an entry point for the router. Its main purpose is to open the
// configured devices, attach the router to them, set up the packet dump
// and the Gateway API and run them.
type Director struct {
	cfg     *Config
	devices *devices.Devices
	router  *router.Router
	dumper  *pdump.Dumper
	gateway *gateway.Gateway
	handler iface.Handler
	log     *zap.SugaredLogger
}

// NewDirector creates a new router director using specified config.
func NewDirector(cfg *Config, options ...DirectorOption) (*Director, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	log := opts.Log
	log.Infof("initializing router ...")
	log.Debugw("parsed config", zap.Any("config", cfg))

	devs, err := devices.OpenAll(cfg.Interfaces, log.Named("devices"))
	if err != nil {
		return nil, fmt.Errorf("failed to open devices: %w", err)
	}

	var sender iface.Sender = devs

	var dumper *pdump.Dumper
	if cfg.Pdump != nil && cfg.Pdump.Enabled() {
		dumper, err = pdump.Open(cfg.Pdump, pdump.WithLog(log.Named("pdump")))
		if err != nil {
			devs.Close()
			return nil, fmt.Errorf("failed to initialize packet dump: %w", err)
		}
		sender = dumper.Sender(sender)
	}

	r, err := router.NewRouter(cfg.Router, devs.Interfaces(), sender, router.WithLog(log.Named("router")))
	if err != nil {
		devs.Close()
		if dumper != nil {
			dumper.Close()
		}
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	handler := iface.Handler(r.HandleFrame)
	if dumper != nil {
		handler = dumper.Handler(handler)
	}

	var gw *gateway.Gateway
	if cfg.Gateway != nil && cfg.Gateway.Server.Endpoint != "" {
		gw = gateway.NewGateway(
			cfg.Gateway,
			r,
			gateway.WithLog(log.Named("gateway")),
			gateway.WithAtomicLogLevel(opts.LogLevel),
		)
	}

	for _, ifc := range devs.Interfaces().All() {
		log.Infow("attached interface",
			zap.String("iface", ifc.Name),
			zap.Stringer("prefix", ifc.Prefix),
			zap.Stringer("hardware_addr", ifc.HardwareAddr),
		)
	}

	return &Director{
		cfg:     cfg,
		devices: devs,
		router:  r,
		dumper:  dumper,
		gateway: gw,
		handler: handler,
		log:     log,
	}, nil
}

// Router returns the managed router.
func (m *Director) Router() *router.Router {
	return m.router
}

// Run runs the router director until the specified context is canceled.
//
// Devices and the packet dump are closed on return.
func (m *Director) Run(ctx context.Context) error {
	defer m.close()

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return ignoreCanceled(m.router.Run(ctx))
	})
	wg.Go(func() error {
		return ignoreCanceled(m.devices.Run(ctx, m.handler))
	})
	if m.gateway != nil {
		wg.Go(func() error {
			return ignoreCanceled(m.gateway.Run(ctx))
		})
	}

	m.log.Infow("router is running", zap.Int("interfaces", m.devices.Interfaces().Len()))

	return wg.Wait()
}

func (m *Director) close() {
	// Receive loops are stopped by now, so no frame can reach the dump
	// after it is closed.
	if err := m.devices.Close(); err != nil {
		m.log.Warnw("failed to close devices", zap.Error(err))
	}
	m.router.Close()
	if m.dumper != nil {
		if err := m.dumper.Close(); err != nil {
			m.log.Warnw("failed to close packet dump", zap.Error(err))
		}
	}
	m.log.Infow("stopped router")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
