package codec

import (
	"errors"
	"fmt"
)

// ErrValidation is matched (via errors.Is) by every error this package
// returns for rejected desired state. Reconciliation treats these as
// non-retryable until the resource is edited.
var ErrValidation = errors.New("invalid desired state")

// InvalidNameError reports a topic name that does not satisfy the backend's
// naming grammar.
type InvalidNameError struct {
	// Field is the spec field the rejected name came from.
	Field string
	// Fallback is set when spec.topicName was absent and the resource name
	// was used instead.
	Fallback bool
	Reason   string
}

func (e *InvalidNameError) Error() string {
	if e.Fallback {
		return fmt.Sprintf("spec.topicName is absent and %s is invalid as a topic name: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s is invalid as a topic name: %s", e.Field, e.Reason)
}

func (e *InvalidNameError) Is(target error) bool { return target == ErrValidation }

// InvalidSizingError reports a partition or replica count outside its
// documented bounds.
type InvalidSizingError struct {
	Field  string
	Value  int64
	Reason string
}

func (e *InvalidSizingError) Error() string {
	return fmt.Sprintf("%s %s, got %d", e.Field, e.Reason, e.Value)
}

func (e *InvalidSizingError) Is(target error) bool { return target == ErrValidation }

// InvalidConfigValueError reports a spec.config entry whose value is not a
// scalar, or whose key is reserved.
type InvalidConfigValueError struct {
	Key    string
	Reason string
}

func (e *InvalidConfigValueError) Error() string {
	return fmt.Sprintf("spec.config has an invalid entry: the value corresponding to the key %q %s", e.Key, e.Reason)
}

func (e *InvalidConfigValueError) Is(target error) bool { return target == ErrValidation }
