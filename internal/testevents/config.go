package testevents

import (
	"time"

	"github.com/okian/assignml/internal/domain/model"
)

// Config holds configuration for the event test
type Config struct {
	BaseURL        string        // Base URL of the service
	Pairs          int           // Number of assignment/completion pairs
	Users          int           // Size of the simulated workforce
	Workers        int           // Number of concurrent workers
	Timeout        time.Duration // HTTP request timeout
	ProcessTimeout time.Duration // How long to wait for the pipeline to catch up
	Months         int           // Window passed to the data quality check
	Seed           uint64        // Generator seed; equal seeds give equal events
	OutputFile     string        // Output file for events
	LogFile        string        // Log file for test output
	Verbose        bool          // Enable verbose logging
}

// Pair is one task lifecycle: its assignment and its completion.
type Pair struct {
	Assignment model.EventRecord `json:"assignment"`
	Completion model.EventRecord `json:"completion"`
}

// AckResponse represents the response from event submission
type AckResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
}

// Stats holds test statistics
type Stats struct {
	PairsGenerated   int
	EventsSubmitted  int
	EventsSuccessful int
	EventsFailed     int
	TrainingRows     int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
