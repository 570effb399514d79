package main

import "fmt"

// ConfigError is returned when the startup configuration is missing or invalid.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NetworkError reports a failed upstream request or a non-success status.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports an upstream payload that does not match the expected schema.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Source, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// MappingError reports a vehicle record that cannot become a CoT event.
type MappingError struct {
	VehicleID string
	Reason    string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map vehicle %q: %s", e.VehicleID, e.Reason)
}

// TransportError reports a dial or write failure on the CoT sink.
type TransportError struct {
	Op  string // dial or write
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
