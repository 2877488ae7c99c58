package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/api"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/internal/orchestrator"
)

func main() {
	configFlag := flag.String("config", "", "path to the root config file (default: ./config.json or ./config/config.json)")
	logDir := flag.String("log-dir", "", "value for the LOG_DIR variable used in client logDirectory settings")
	debug := flag.Bool("debug", false, "enable debug logging")
	rescan := flag.Bool("rescan", false, "re-read watched log files from the beginning on startup")
	flag.Parse()

	if *logDir != "" {
		os.Setenv("LOG_DIR", *logDir)
	}

	cfgPath, err := config.FindRootConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no root config found: %v\n", err)
		fmt.Fprintln(os.Stderr, "create config.json (or pass -config) to get started")
		os.Exit(1)
	}

	bootLog := notifirc.NewDefaultLogger(*debug)
	store := config.NewStore(cfgPath, bootLog)
	if err := store.Load(); err != nil {
		bootLog.Error("initial config load failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	// An empty config set on first start is seeded from the newest backup
	// bundle, when one exists.
	if err := store.AutoImport(); err != nil {
		bootLog.Warn("backup auto-import failed", "error", err)
	}

	root := store.Root()
	log := notifirc.NewDefaultLogger(*debug || root.Debug)
	// Clients reference ${LOG_DIR} in their logDirectory; the root config
	// supplies the default when neither the flag nor the env set it.
	if root.LogDirectory != "" && os.Getenv("LOG_DIR") == "" {
		os.Setenv("LOG_DIR", root.LogDirectory)
	}
	if *rescan {
		root.RescanLogsOnStartup = true
		if err := store.SaveRoot(root); err != nil {
			log.Warn("cannot persist rescan flag", "error", err)
		}
	}

	orch := orchestrator.New(store, log)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		log.Error("pipeline start failed", "error", err)
		os.Exit(1)
	}
	log.Info("pipeline started",
		"config", cfgPath, "watchers", orch.WatcherCount())

	apiOpts, err := api.ResolveOptions(store.Root(), store.Dir())
	if err != nil {
		log.Error("control plane options invalid", "error", err)
		orch.Stop()
		os.Exit(1)
	}
	var srv *api.Server
	if apiOpts.Enabled {
		srv = api.NewServer(orch, apiOpts, log)
		if err := srv.Start(); err != nil {
			log.Error("control plane start failed", "error", err)
			orch.Stop()
			os.Exit(1)
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("control plane shutdown", "error", err)
		}
		cancel()
	}
	orch.Stop()
}
