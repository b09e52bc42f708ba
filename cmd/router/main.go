// Command router is the top-level NMEA-0183/NMEA-2000 message router
// (spec §4.10): it loads a declarative settings document and runs every
// coupler, publisher, and server it names until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tuna-marine/n2k-router/config"
	"github.com/tuna-marine/n2k-router/router"
)

func main() {
	os.Exit(run())
}

func run() int {
	settingsPath := flag.String("settings", "", "path to the router's settings YAML file (required)")
	workingDir := flag.String("working_dir", "", "directory to run from; relative paths in the settings file (schema_path, trace_path, log-replay path) resolve against it")
	timer := flag.Int("timer", 0, "if set, stop the router automatically after this many seconds instead of waiting for a signal")
	flag.Parse()

	if *settingsPath == "" {
		fmt.Fprintln(os.Stderr, "router: -settings is required")
		return 1
	}

	if *workingDir != "" {
		if err := os.Chdir(*workingDir); err != nil {
			log.Printf("router: working_dir: %v", err)
			return 1
		}
	}

	settings, err := config.Load(*settingsPath)
	if err != nil {
		log.Printf("router: %v", err)
		return 1
	}

	r, err := router.New(settings)
	if err != nil {
		log.Printf("router: %v", err)
		return 1
	}

	if err := r.Start(context.Background()); err != nil {
		log.Printf("router: %v", err)
		return 2
	}

	if *timer > 0 {
		go func() {
			time.Sleep(time.Duration(*timer) * time.Second)
			r.Stop()
		}()
		r.Wait()
		return 0
	}

	r.RunUntilSignal()
	r.Wait()
	return 0
}
