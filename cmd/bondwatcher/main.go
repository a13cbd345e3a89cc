package main

import (
	"github.com/joho/godotenv"

	"bond-alerts/internal/cli"
)

func main() {
	// Credentials may live in a local .env file; absence is fine, the
	// environment and config file are consulted either way.
	_ = godotenv.Load()

	cli.Execute()
}
