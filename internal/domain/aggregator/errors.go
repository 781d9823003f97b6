package aggregator

import "errors"

// ErrInvalidWeights is returned for negative, non-finite, unknown or all-zero signal weights.
var ErrInvalidWeights = errors.New("invalid signal weights")
