package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/bayleafwalker/bindery-runtime/internal/config"
	"github.com/bayleafwalker/bindery-runtime/internal/deploy"
	"github.com/bayleafwalker/bindery-runtime/internal/framework"
	"github.com/bayleafwalker/bindery-runtime/internal/scheduler"
)

func main() {
	var configPath string
	var metricsAddr string
	var probeAddr string

	flag.StringVar(&configPath, "config", "", "Path to the runtime configuration file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "", "The address the metric endpoint binds to. Overrides the configuration.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", "", "The address the gRPC health service binds to. Overrides the configuration.")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to load configuration: %v\n", err)
		os.Exit(1)
	}
	if metricsAddr != "" {
		cfg.MetricsBindAddress = metricsAddr
	}
	if probeAddr != "" {
		cfg.HealthProbeBindAddress = probeAddr
	}

	zl, err := newZapLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to set up logging: %v\n", err)
		os.Exit(1)
	}
	log := zapr.NewLogger(zl)
	setupLog := log.WithName("setup")

	code := run(*cfg, log, setupLog)
	_ = zl.Sync()
	os.Exit(code)
}

func run(cfg config.Config, log, setupLog logr.Logger) int {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	fw := framework.New(cfg, framework.WithLogger(log), framework.WithRegisterer(reg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logr.NewContext(ctx, log)
	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsServer := &http.Server{Addr: cfg.MetricsBindAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		setupLog.Info("serving metrics", "address", cfg.MetricsBindAddress)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", cfg.HealthProbeBindAddress)
	if err != nil {
		setupLog.Error(err, "unable to listen for health probes", "address", cfg.HealthProbeBindAddress)
		stop()
		_ = g.Wait()
		return 1
	}
	g.Go(func() error {
		setupLog.Info("serving health probes", "address", cfg.HealthProbeBindAddress)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		return nil
	})

	if err := fw.Boot(ctx); err != nil {
		setupLog.Error(err, "boot completed with errors")
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if cfg.Deploy.Watch {
		w, err := deploy.New(cfg.Deploy, fw)
		if err != nil {
			setupLog.Error(err, "unable to watch deploy directory")
			stop()
		} else {
			setupLog.Info("watching deploy directory", "dir", w.Dir())
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	<-gctx.Done()
	healthServer.Shutdown()
	setupLog.Info("shutting down")

	code := 0
	if err := fw.Shutdown(logr.NewContext(context.Background(), log)); err != nil {
		setupLog.Error(err, "problem shutting down modules")
		if errors.Is(err, scheduler.ErrShutdownTimeout) {
			code = 1
		}
	}
	stop()
	if err := g.Wait(); err != nil {
		setupLog.Error(err, "problem running runtime")
		code = 1
	}
	return code
}

func newZapLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
