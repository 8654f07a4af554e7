package main

import (
	"github.com/joho/godotenv"

	"github.com/zapbi/zapbi/cmd"
)

func main() {
	// Optional .env for local development; real deployments set env vars.
	_ = godotenv.Load()
	cmd.Execute()
}
