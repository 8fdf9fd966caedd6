package main

import (
	"context"
	"flag"
	"os"

	"github.com/boardpulse/boardpulse/internal/platform/config"
	"github.com/boardpulse/boardpulse/internal/tools/maintenance"
)

func main() {
	cfg, err := maintenance.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := maintenance.Run(context.Background(), cfg, os.Stdout); err != nil {
		config.Exitf("sweep expired records: %v", err)
	}
}
