package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/okian/assignml/internal/testevents"
)

// Default configuration constants.
const (
	defaultPairs          = 500
	defaultUsers          = 50
	defaultWorkers        = 2 // multiplier for runtime.NumCPU()
	defaultTimeout        = 30 * time.Second
	defaultProcessTimeout = 2 * time.Minute
	defaultTestTimeout    = 10 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		pairs      = flag.Int("pairs", defaultPairs, "Number of assignment/completion pairs")
		users      = flag.Int("users", defaultUsers, "Size of the simulated workforce")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		wait       = flag.Duration("wait", defaultProcessTimeout, "How long to wait for processing")
		months     = flag.Int("months", 1, "Window of the data quality check")
		seed       = flag.Uint64("seed", 1, "Generator seed")
		outputFile = flag.String("output", "", "Output file for generated events")
		logFile    = flag.String("log", "", "Log file for test output")
		verbose    = flag.Bool("verbose", false, "Log every rejected event")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp(os.Stdout)
		return 0
	}

	closeLog, err := testevents.SetupLogging(*logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	if *outputFile == "" {
		*outputFile = testevents.DefaultOutputFile(time.Now())
	}
	report, err := testevents.Run(ctx, &testevents.Config{
		BaseURL:        *baseURL,
		Pairs:          *pairs,
		Users:          *users,
		Workers:        *workers,
		Timeout:        *timeout,
		ProcessTimeout: *wait,
		Months:         *months,
		Seed:           *seed,
		OutputFile:     *outputFile,
		LogFile:        *logFile,
		Verbose:        *verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Test failed: %v\n", err)
		return 1
	}
	if !report.Valid {
		return 2
	}
	return 0
}
