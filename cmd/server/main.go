package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/ghosthk/zai2api/internal/config"
	"github.com/ghosthk/zai2api/internal/logger"
	"github.com/ghosthk/zai2api/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger.Init(cfg.LogLevel)

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}
