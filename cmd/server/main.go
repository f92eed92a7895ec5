package main

import (
	"campaign-progress-engine/internal/app/server"
	"campaign-progress-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	server.Run(cfg)
}
