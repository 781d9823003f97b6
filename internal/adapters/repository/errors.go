package repository

import (
	"errors"

	"github.com/okian/assignml/internal/domain/model"
)

// Sentinel kinds for store errors. The record outcomes are the domain's own
// so callers outside this package match them without importing it.
var (
	ErrNotFound      = model.ErrNotFound
	ErrDuplicate     = model.ErrDuplicate
	ErrConflict      = model.ErrConflict
	ErrUnknownDriver = errors.New("unknown store driver")
)
