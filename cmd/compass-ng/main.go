package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"compass-ng/internal/config"
	"compass-ng/internal/web"
)

func main() {
	var configPath string
	var summarizePath string
	flag.StringVar(&configPath, "config", "./compass.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded sample log and exit")
	flag.Parse()

	logs := web.NewLogBuffer(500)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if summarizePath != "" {
		if err := printLogSummary(os.Stdout, summarizePath, cfg); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, logs)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}

	log.Printf("compass-ng starting")
	log.Printf("source=%s method=%s web=%s", cfg.Source.Kind, cfg.Heading.Method, cfg.Web.Listen)

	runErr := rt.Run(ctx)
	if err := rt.Close(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("compass-ng stopped: %v", runErr)
	}
	log.Printf("compass-ng stopped")
}
