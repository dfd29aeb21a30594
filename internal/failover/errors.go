package failover

import (
	"fmt"
	"strings"

	"github.com/woozymasta/gtpulse/internal/registry"
)

// SourceError is the final error of one source during a failover pass.
type SourceError struct {
	Err    error
	Source registry.Source
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source.Name, e.Err)
}

// AllSourcesFailedError is returned once every candidate source of an
// endpoint has been tried and failed. Errors are in attempt order.
type AllSourcesFailedError struct {
	Endpoint string
	Errors   []SourceError
}

func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		parts[i] = se.Error()
	}

	return fmt.Sprintf("all sources failed for %s: %s", e.Endpoint, strings.Join(parts, "; "))
}

// Unwrap exposes the per-source errors to errors.Is and errors.As.
func (e *AllSourcesFailedError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, se := range e.Errors {
		out[i] = se.Err
	}

	return out
}
