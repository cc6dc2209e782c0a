package core

import (
	"fmt"
)

// ConfigurationError is returned before any executor call when an
// aggregation is malformed.
type ConfigurationError struct {
	Kind  string
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Kind == "":
		return "aggjin: " + e.Msg
	case e.Field == "":
		return fmt.Sprintf("aggjin: %s: %s", e.Kind, e.Msg)
	default:
		return fmt.Sprintf("aggjin: %s(%s): %s", e.Kind, e.Field, e.Msg)
	}
}

func newConfigurationError(kind, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// SchemaResolutionError is returned when a field path does not exist on a
// collection and missing fields are not allowed.
type SchemaResolutionError struct {
	Kind       string
	Collection string
	Path       string
}

func (e *SchemaResolutionError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("aggjin: collection %q has no field %q", e.Collection, e.Path)
	}
	return fmt.Sprintf("aggjin: %s: collection %q has no field %q", e.Kind, e.Collection, e.Path)
}

func newSchemaResolutionError(coll, path string) *SchemaResolutionError {
	return &SchemaResolutionError{Collection: coll, Path: path}
}

// EngineExecutionError wraps a failure reported by the executor. Err is the
// executor's error, unchanged.
type EngineExecutionError struct {
	Kind       string
	Collection string
	Err        error
}

func (e *EngineExecutionError) Error() string {
	return fmt.Sprintf("aggjin: %s on %q: %v", e.Kind, e.Collection, e.Err)
}

func (e *EngineExecutionError) Unwrap() error {
	return e.Err
}
