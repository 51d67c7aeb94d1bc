package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/relaychat/relaychat/internal/cmd"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
