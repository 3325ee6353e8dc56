package models

import (
	"errors"
	"fmt"
)

// ErrValidation marks a request rejected before any state was touched.
var ErrValidation = errors.New("validation failed")

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
