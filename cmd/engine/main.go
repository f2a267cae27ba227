package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	_ "strata/internal/catalog/fs"
	_ "strata/internal/compute/fs"
	"strata/internal/engine"
	"strata/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "runtime config file (optional)")
	flag.Parse()

	logging.InitFromEnv()

	cfg, err := engine.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Log.Level != "" || cfg.Log.JSON {
		logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	if err := e.Run(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}
}
