package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/orchestrator"
	"github.com/customeros/mailstack/internal/tracing"
)

func InitConfig() (*Config, error) {
	cfg := &Config{
		AppConfig: &AppConfig{
			Logger:  &logger.Config{},
			Tracing: &tracing.JaegerConfig{},
		},
		DatabaseConfig:     &DatabaseConfig{},
		OrchestratorConfig: &orchestrator.Config{},
	}

	if err := godotenv.Load(); err != nil {
		log.Print("Unable to load .env file")
	}

	if err := env.Parse(cfg); err != nil {
		log.Fatalf("Error loading mailstack config: %v", err)
	}

	return cfg, nil
}
