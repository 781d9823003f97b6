package trainer

import "errors"

var (
	// ErrTrainingInProgress is returned when a run is already in flight.
	ErrTrainingInProgress = errors.New("training already in progress")
	// ErrNoActiveTraining is returned by Cancel when nothing is running.
	ErrNoActiveTraining = errors.New("no active training run")
	// ErrCancelled is the failure message of a cancelled run.
	ErrCancelled = errors.New("training cancelled")
	// ErrInsufficientData marks a dataset rejected by the quality gates.
	ErrInsufficientData = errors.New("insufficient training data")
)
