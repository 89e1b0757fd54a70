package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "terrain/api/api/http"
	"terrain/api/config"
	"terrain/api/log"
	"terrain/api/service"
	"terrain/api/system"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	log.Setup(log.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		JSON:       cfg.Log.JSON,
	})
	if cfg.Map.Basename == "" {
		log.Fatal("map.basename is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := service.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open map %d: %v", cfg.Map.ID, err)
	}
	service.Install(session)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: apihttp.NewEngine(cfg.Server)}
	go func() {
		log.Info("listening on ", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down, flushing changed tiles")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown: ", err)
	}
	if err := session.SaveChanged(); err != nil {
		log.Error("final save: ", err)
	}
	if err := system.CloseDb(); err != nil {
		log.Error("close db: ", err)
	}
}
