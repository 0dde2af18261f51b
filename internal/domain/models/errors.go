package models

import "errors"

// Error kinds shared across layers. Wrap them with fmt.Errorf("...: %w", ...) and
// test with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")
	ErrSend       = errors.New("send error")
)
