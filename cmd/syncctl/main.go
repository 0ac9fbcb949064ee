package main

import (
	"os"

	"github.com/faciam-dev/cssync/internal/logger"
)

func main() {
	if l, err := logger.New(logger.Config{Encoding: "console"}); err == nil {
		logger.Set(l)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
