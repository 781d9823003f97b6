package service

import "errors"

var (
	// ErrBadRequest marks input the caller must fix.
	ErrBadRequest = errors.New("bad request")
	// ErrPredictionNotFound is returned for feedback on a pair never recommended.
	ErrPredictionNotFound = errors.New("prediction not found")
	// ErrFeedbackRecorded is returned when the prediction already has an outcome.
	ErrFeedbackRecorded = errors.New("feedback already recorded")
)
