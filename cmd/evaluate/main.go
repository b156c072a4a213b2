// evaluate runs a single evaluation cycle for the configured symbols and
// prints the resulting messages, without starting the daemon loop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go-signal/internal/app"
	"go-signal/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	symbols := flag.String("symbols", "", "comma separated symbols (default: all configured)")
	demo := flag.Bool("demo", false, "use synthetic candles instead of the exchange feed")
	asJSON := flag.Bool("json", false, "print full cycle results as JSON")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *demo {
		cfg.Exchange.Source = "demo"
	}
	// One-shot runs never serve or journal.
	cfg.API.Enabled = false
	cfg.Journal.Enabled = false
	cfg.App.Log.File = ""

	var list []string
	for _, s := range strings.Split(*symbols, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			list = append(list, s)
		}
	}

	a := app.New(cfg, nil)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results, err := a.EvaluateOnce(ctx, list)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		for _, res := range results {
			for _, msg := range res.Messages() {
				fmt.Println(msg)
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %v\n", err)
		os.Exit(1)
	}
}
