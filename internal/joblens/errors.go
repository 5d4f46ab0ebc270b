package joblens

import (
	"errors"
	"fmt"
)

// ErrResolutionTimeout indicates both resolution strategies ran out of time.
var ErrResolutionTimeout = errors.New("resolution timed out")

// ErrStopped indicates the orchestrator observed its cooperative stop signal.
var ErrStopped = errors.New("crawl stopped")

// NavigationError wraps a transient page-load failure. The orchestrator
// treats it as an empty page rather than aborting the keyword loop.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// CacheCorruptionError indicates stored dedup state could not be decoded.
// Recovery is a cold start; the corrupt file is preserved for inspection.
type CacheCorruptionError struct {
	Path string
	Err  error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache state at %s: %v", e.Path, e.Err)
}

func (e *CacheCorruptionError) Unwrap() error { return e.Err }

// ConfigError is fatal and surfaces before any crawling begins.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
