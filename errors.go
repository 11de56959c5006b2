package dbpoll

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is wrapped by every instance configuration error. An instance
	// with a config error is not built, but other instances are not affected.
	ErrConfig = errors.New("invalid configuration")

	// ErrNoConnection is returned when a poll cycle is skipped because there
	// is no database connection.
	ErrNoConnection = errors.New("no database connection")
)

// ErrMissingParam is returned when a required instance parameter is not set.
type ErrMissingParam struct {
	Instance string
	Param    string
}

func (e ErrMissingParam) Error() string {
	if e.Instance == "" {
		return fmt.Sprintf("%s: required parameter %s not set", ErrConfig, e.Param)
	}
	return fmt.Sprintf("%s: instance %s: required parameter %s not set", ErrConfig, e.Instance, e.Param)
}

func (e ErrMissingParam) Unwrap() error {
	return ErrConfig
}
