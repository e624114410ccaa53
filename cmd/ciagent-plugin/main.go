// Package main is the entry point for the ciagent elastic-agent
// scheduler plugin process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/common/config"
	"github.com/kandev/ciagent/internal/common/httpmw"
	"github.com/kandev/ciagent/internal/common/logger"
	"github.com/kandev/ciagent/internal/common/tracing"
	"github.com/kandev/ciagent/internal/core"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/executor/grpcclient"
	"github.com/kandev/ciagent/internal/metrics"
	"github.com/kandev/ciagent/internal/plugin"
	"github.com/kandev/ciagent/internal/scheduler/statemachine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting ciagent elastic-agent plugin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Configure(ctx, cfg.Tracing.Enabled, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.Fatal("failed to configure tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	executors := executor.NewCache(grpcclient.Dial)
	ci := ciserver.NewHTTPGateway(cfg.Server.CIServerURL, nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	timeouts := statemachine.Timeouts{
		Launching:  cfg.Scheduler.LaunchingStaleDuration(),
		Pending:    cfg.Scheduler.LaunchingStaleDuration(),
		Starting:   cfg.Scheduler.LaunchingStaleDuration(),
		Retiring:   cfg.Scheduler.RetiringStaleDuration(),
		Killing:    cfg.Scheduler.RetiringStaleDuration(),
		Removing:   cfg.Scheduler.RetiringStaleDuration(),
		Legacy:     cfg.Scheduler.AdoptStaleDuration(),
		Orphan:     cfg.Scheduler.AdoptStaleDuration(),
		Failed:     cfg.Scheduler.FailedTTLDuration(),
		Terminated: cfg.Scheduler.TerminatedTTLDuration(),
		Idle:       cfg.Scheduler.IdleDuration(),
	}

	svc := core.New(ci, executors, cfg.Scheduler.EffectWorkers, timeouts, rec, log)
	defer svc.Close()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.RequestLogger(log, "ciagent-plugin"))
	router.Use(httpmw.OtelTracing("ciagent-plugin"))
	router.Use(httpmw.Recovery(log))

	pluginGroup := router.Group("/plugin")
	plugin.SetupRoutes(pluginGroup, svc, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ciagent elastic-agent plugin")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("ciagent elastic-agent plugin stopped")
}
