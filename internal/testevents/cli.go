package testevents

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/assignml/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging initializes the logger writing to stdout and, when logFile is
// set, to that file as well. The returned func closes the file.
func SetupLogging(logFile string) (func(), error) {
	if logFile == "" {
		if err := logger.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return func() {}, nil
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWithWriter(io.MultiWriter(os.Stdout, file)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return func() { _ = file.Close() }, nil
}

// DefaultOutputFile names a timestamped file for the generated pairs.
func DefaultOutputFile(now time.Time) string {
	return "generated_events_" + now.Format("20060102_150405") + ".json"
}

// ShowHelp prints usage information for the test events tool.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `assignml event test tool
========================

Generates synthetic task assignment/completion pairs, posts them to
/v1/events, waits until the pipeline turned them into training rows and
reports the data quality through /v1/training/validate.

Usage:
  go run ./cmd/test-events [options]

Options:
  -url string         Base URL of the service (default "http://localhost:9080")
  -pairs int          Number of assignment/completion pairs (default 500)
  -users int          Size of the simulated workforce (default 50)
  -workers int        Number of concurrent workers (default CPU cores * 2)
  -timeout duration   HTTP request timeout (default 30s)
  -wait duration      How long to wait for processing (default 2m)
  -months int         Window of the data quality check (default 1)
  -seed uint          Generator seed (default 1)
  -output string      Output file for generated events
  -log string         Log file for test output
  -verbose            Log every rejected event
  -help               Show this help message

Examples:
  # Generate enough rows for a first training run
  go run ./cmd/test-events -pairs 1000

  # Against another instance
  go run ./cmd/test-events -url http://localhost:8080 -workers 16
`)
}
