package main

import (
	"context"
	"log"

	"parley/internal/app"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	flags := config.ParseConfigFlags()

	eff, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, eff.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited", err, eff.DBPath)
	}
}
