package access

import (
	"sort"
	"strings"

	"github.com/juju/errors"
)

// ErrUpstreamUnavailable is returned by document repository adapters when
// the repository cannot answer. Authorization checks turn it into a denial.
const ErrUpstreamUnavailable = errors.ConstError("document repository unavailable")

// ValidationError reports malformed grant input, one message per field.
// It matches errors.NotValid.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid access grant: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return errors.NotValid
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
