package model

import "errors"

// Persistence outcomes the domain reacts to. Stores wrap or return these.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrConflict  = errors.New("record already updated")
)
