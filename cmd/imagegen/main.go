package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/debug"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/logging"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/setup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := setup.LoadDotEnv(); err != nil {
		slog.Error("failed to load environment", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if debug.IsDebugGin() {
		logLevel = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	slog.SetDefault(logging.New(os.Stderr, os.Getenv(setup.EnvLogFormat), logLevel))

	setupResult, err := setup.Setup(ctx)
	if err != nil {
		slog.Error("failed to setup", "error", err)
		os.Exit(1)
	}

	serviceConfig, err := imagegen.NewServiceConfigFromSetupResult(setupResult)
	if err != nil {
		slog.Error("failed to create service config", "error", err)
		os.Exit(1)
	}

	service, err := imagegen.NewService(serviceConfig)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	if err := service.Start(ctx); err != nil {
		slog.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}
