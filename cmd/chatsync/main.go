package main

import (
	"github.com/joho/godotenv"

	"chatsync/internal/cli"
)

// set build metadata
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	cli.SetVersion(version, commit)
	cli.Execute()
}
