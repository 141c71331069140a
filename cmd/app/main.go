package main

import (
	"flag"
	"log"
	"os"

	"OutlierScope/internal/di"
	"OutlierScope/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s port=%d method=%s", cfg.Environment, cfg.Server.Port, cfg.Detection.DefaultMethod)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("redis=%t clickhouse=%t kafka=%t queue=%t",
		cfg.Redis.Enabled, cfg.ClickHouse.Enabled, cfg.Kafka.Enabled, cfg.Queue.Enabled && cfg.Redis.Enabled)

	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
