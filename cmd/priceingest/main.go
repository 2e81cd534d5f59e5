package main

import (
	"github.com/joho/godotenv"

	"price-ingest-alerts/internal/cli"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()
	cli.Execute()
}
