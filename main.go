package main

import (
	"context"
	"hirewire/app/api/mcpserver"
	"hirewire/app/api/rest"
	"hirewire/app/client/oracle"
	"hirewire/app/config"
	"hirewire/app/service/conversation"
	"hirewire/app/service/queue"
	"hirewire/app/service/store"
	"hirewire/app/util/mylog"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, oracle.New)
	do.Provide(di, store.New)
	do.Provide(di, queue.New)
	do.Provide(di, conversation.New)
	do.Provide(di, rest.New)
	do.Provide(di, mcpserver.New)

	slog.Info("Service started",
		"transport", cfg.Transport,
		"store", cfg.Store.Driver,
		"model", cfg.Oracle.Model)

	group, groupCtx := errgroup.WithContext(appCtx)

	switch cfg.Transport {
	case config.TransportMCP:
		group.Go(func() error {
			return do.MustInvoke[*mcpserver.Server](di).Run(groupCtx)
		})
	default:
		group.Go(func() error {
			return do.MustInvoke[*rest.Server](di).Run(groupCtx)
		})
	}

	if err = group.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
	}

	log.Info("Shutting down...")
}
