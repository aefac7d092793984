package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/meshapp/meshcore/internal/api"
	"github.com/meshapp/meshcore/internal/config"
	"github.com/meshapp/meshcore/internal/core"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "path to meshd YAML config")
		dataDir     = flag.String("data-dir", "", "override data directory")
		listen      = flag.String("listen", "", "override API listen address")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshd %s\n", version)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.AuthSecret == "" {
		var b [16]byte
		if _, err := rand.Read(b[:]); err != nil {
			log.Error("generate auth secret", "err", err)
			os.Exit(1)
		}
		cfg.AuthSecret = hex.EncodeToString(b[:])
		log.Warn("no auth_secret configured, generated one for this run", "secret", cfg.AuthSecret)
	}

	c, err := core.Open(cfg, nil, log)
	if err != nil {
		log.Error("core init failed", "err", err)
		os.Exit(1)
	}
	defer c.Close()

	log.Info("meshd starting", "version", version, "user", c.Fingerprint(), "data_dir", cfg.DataDir)

	srv := api.New(c, cfg, log)
	if err := srv.Run(); err != nil {
		log.Error("api server failed", "err", err)
		os.Exit(1)
	}
}
