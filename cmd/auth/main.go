package main

import (
	"log"

	"github.com/planfold/planfold/internal/auth/app"
)

func main() {
	cfg := app.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize auth service: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("auth service exited: %v", err)
	}
}
