// Package main is the entry point for the go-signal evaluation daemon.
package main

import (
	"flag"
	"fmt"
	"os"

	"go-signal/internal/app"
	"go-signal/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	demo := flag.Bool("demo", false, "use synthetic candles instead of the exchange feed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *demo {
		cfg.Exchange.Source = "demo"
	}

	if err := app.New(cfg, os.Stdout).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "go-signal: %v\n", err)
		os.Exit(1)
	}
}
