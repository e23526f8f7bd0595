// Package main implements the migration HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gourab8389/migrata-new/internal/archive"
	"github.com/gourab8389/migrata-new/internal/bulkload"
	"github.com/gourab8389/migrata-new/internal/config"
	"github.com/gourab8389/migrata-new/internal/console"
	"github.com/gourab8389/migrata-new/internal/extract"
	"github.com/gourab8389/migrata-new/internal/notify"
	"github.com/gourab8389/migrata-new/internal/orchestrator"
	"github.com/gourab8389/migrata-new/internal/org"
	"github.com/gourab8389/migrata-new/internal/progress"
	"github.com/gourab8389/migrata-new/internal/runstore"
	"github.com/gourab8389/migrata-new/internal/scheduler"
	"github.com/gourab8389/migrata-new/internal/schemadiff"
	"github.com/gourab8389/migrata-new/internal/server"
	"github.com/gourab8389/migrata-new/internal/staging"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	consoleConn, err := connect("console", cfg.ConsoleURL, cfg.ConsoleToken, cfg)
	if err != nil {
		log.Fatalf("console org: %v", err)
	}
	defer consoleConn.Close()
	consoleStore := console.New(consoleConn, cfg.ConsoleNamespace)

	connector := org.ConnectorFunc(func(_ context.Context, domain string) (org.Connection, error) {
		switch domain {
		case "source":
			return connect(domain, cfg.SourceURL, cfg.SourceToken, cfg)
		case "target":
			return connect(domain, cfg.TargetURL, cfg.TargetToken, cfg)
		default:
			return nil, fmt.Errorf("unknown org %q", domain)
		}
	})

	runs, err := buildRunStore(ctx, cfg)
	if err != nil {
		log.Fatalf("run store: %v", err)
	}
	defer runs.Close()

	staged, err := buildStagingStore(cfg)
	if err != nil {
		log.Fatalf("staging store: %v", err)
	}
	defer staged.Close()

	events := progress.NewBroadcaster()
	orch := orchestrator.New(orchestrator.Deps{
		Console:   consoleStore,
		Connect:   connector,
		Staging:   staged,
		Runs:      runs,
		Fetcher:   extract.NewFetcher(staged),
		Loader:    bulkload.NewLoader(cfg.LoadRatePerSec),
		Diff:      schemadiff.NewEngine(),
		Progress:  events,
		Lock:      orchestrator.NewRunLock(),
		Notifier:  notify.NewLogNotifier(),
		Archiver:  buildArchiver(cfg),
		Namespace: cfg.ConsoleNamespace,
	})

	if cfg.CronSpec != "" && cfg.CronScheduleID != "" {
		sched := scheduler.New(orch, cfg.CronSpec, cfg.CronScheduleID)
		if err := sched.Start(); err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.New(orch, runs, events).Router(),
	}

	go func() {
		log.Printf("migration server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("migration server stopped")
}

func connect(name, url, token string, cfg *config.Config) (org.Connection, error) {
	if url == "" {
		log.Printf("%s org url not set, using in-memory connection", name)
		return org.NewMemoryConnection(name), nil
	}
	return org.NewRESTConnection(org.RESTConfig{
		Name:        name,
		InstanceURL: url,
		AccessToken: token,
		APIVersion:  cfg.ConsoleAPIVersion,
		RatePerSec:  cfg.OrgRatePerSec,
		RetryMax:    cfg.OrgRetryMax,
	})
}

func buildRunStore(ctx context.Context, cfg *config.Config) (runstore.Store, error) {
	if cfg.RunStoreDSN == "" {
		log.Println("run store dsn not set, using in-memory store")
		return runstore.NewMemoryStore(), nil
	}
	return runstore.NewPostgresStore(ctx, cfg.RunStoreDSN)
}

func buildStagingStore(cfg *config.Config) (staging.Store, error) {
	if cfg.StagingDSN == "" {
		log.Println("staging dsn not set, using in-memory store")
		return staging.NewMemoryStore(), nil
	}
	return staging.NewPostgresStore(cfg.StagingDSN)
}

func buildArchiver(cfg *config.Config) orchestrator.Archiver {
	if cfg.ArchiveEndpoint != "" {
		store, err := archive.NewS3Store(archive.S3Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			log.Printf("archive: s3 store unavailable, falling back to local: %v", err)
		} else {
			return archive.NewArchiver(store, cfg.ArchiveBucket)
		}
	}
	if cfg.ArchiveLocalDir != "" {
		return archive.NewArchiver(archive.NewLocalStore(cfg.ArchiveLocalDir), cfg.ArchiveBucket)
	}
	return nil
}
