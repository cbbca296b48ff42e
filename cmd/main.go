package main

import (
	"log"
	"os"

	"live-quiz-service/internal/cli"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
