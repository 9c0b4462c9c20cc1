package store

import "errors"

var (
	ErrNotFound        = errors.New("report not found")
	ErrDuplicateReport = errors.New("duplicate report")
)
