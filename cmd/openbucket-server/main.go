// Command openbucket-server serves the OpenBucket storage API.
//
// Run with:
//
//	OPENBUCKET_SESSION_KEY=$(head -c32 /dev/urandom | base64) \
//	    go run ./cmd/openbucket-server -config openbucket.yaml
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/koustreak/openbucket/internal/config"
	"github.com/koustreak/openbucket/internal/logger"
	"github.com/koustreak/openbucket/internal/server"
)

func main() {
	path := flag.String("config", "openbucket.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		logger.Global().Fatalf("failed to load config: %v", err)
	}

	log := logger.New(&cfg.Log)
	logger.SetGlobal(log)

	srv, err := server.New(&cfg.Server, log)
	if err != nil {
		log.Fatalf("failed to build server: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.ErrorWith("server exited", err, nil)
		os.Exit(1)
	}
	log.Info("bye")
}
