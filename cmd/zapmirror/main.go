package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zapmirror/zapmirror/config"
	"github.com/zapmirror/zapmirror/internal/adminapi"
	"github.com/zapmirror/zapmirror/internal/app"
	"github.com/zapmirror/zapmirror/internal/gateway"
	"github.com/zapmirror/zapmirror/internal/lines"
	"github.com/zapmirror/zapmirror/internal/queue"
	"github.com/zapmirror/zapmirror/internal/webhooks"
	"github.com/zapmirror/zapmirror/internal/webserver"
)

var (
	cfile  = flag.String("c", "/etc/zapmirror.yml", "config file")
	initdb = flag.Bool("initdb", false, "run database migration and exit")
	dropdb = flag.Bool("dropdb", false, "drop all tables before migrating (with -initdb)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*cfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		if *dropdb {
			application.DropAll()
		}
		application.InitDb()
		zap.S().Info("database initialized")
		return
	}

	gw := gateway.New(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
	})

	jobQueue, err := queue.New(application.DB(), queue.Config{
		Workers:      cfg.Sync.QueueWorkers,
		MaxAttempts:  cfg.Sync.QueueAttempts,
		BackoffBase:  time.Duration(cfg.Sync.QueueBackoffMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.Sync.QueuePollMs) * time.Millisecond,
		StaleAfter:   time.Duration(cfg.Sync.QueueStaleSec) * time.Second,
	})
	if err != nil {
		zap.S().Fatalf("queue init: %s", err)
	}

	processor := webhooks.NewProcessor(application.DB(), application.Bus())
	jobQueue.SetHandler(processor.Handle)
	jobQueue.Start()
	defer jobQueue.Stop()

	linesSvc := lines.New(application.DB(), gw, application.Bus(), lines.Config{
		CallbackURL:  cfg.Gateway.CallbackURL,
		HistoryDays:  cfg.Sync.HistoryDays,
		ChatLimit:    cfg.Sync.ChatLimit,
		ChatThrottle: time.Duration(cfg.Sync.ChatThrottleMs) * time.Millisecond,
	})
	if err := linesSvc.Start(); err != nil {
		zap.S().Fatalf("lines service: %s", err)
	}

	if spec := cfg.Sync.AutoSyncSpec; spec != "" {
		_, err := application.Scheduler().AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if _, err := linesSvc.SyncAll(ctx); err != nil {
				zap.S().Errorf("scheduled sync-all: %s", err)
			}
		})
		if err != nil {
			zap.S().Fatalf("auto sync spec %q: %s", spec, err)
		}
	}

	webserver.Init(application)
	adminapi.Init(application, linesSvc, jobQueue)

	errchan := make(chan error, 1)
	go func() {
		errchan <- webserver.Listen()
	}()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errchan:
		zap.S().Errorf("webserver: %s", err)
	case sig := <-sigchan:
		zap.S().Infof("received %s, shutting down", sig)
	}
}
