package guild

import "fmt"

// UnknownPluginError reports a plugin name outside the registry.
type UnknownPluginError struct {
	Name string
}

func (e *UnknownPluginError) Error() string { return fmt.Sprintf("unknown plugin %q", e.Name) }

// UnknownEventError reports an event name with no governing plugin.
type UnknownEventError struct {
	Name string
}

func (e *UnknownEventError) Error() string { return fmt.Sprintf("unknown event %q", e.Name) }

// ValidationError reports a malformed settings payload. Nothing is written
// when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }
