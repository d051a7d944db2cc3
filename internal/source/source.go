// Package source provides access to the desired-state records the operator
// converges on: Stream resources served either by a Kubernetes cluster or by
// a directory of manifest files. Both implementations expose the same watch
// contract, so the reconciliation engine does not know which one it runs on.
package source

import (
	"context"
	"errors"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"

	"streamop/pkg/apis/streamop/v1alpha1"
)

// ErrNotFound reports that no Stream with the requested name exists. The
// controller treats it as the deletion path, not a failure.
var ErrNotFound = errors.New("stream not found")

// Source serves the desired state. Get returns ErrNotFound for an absent
// name; Watch delivers Added/Modified/Deleted/Error events carrying the
// affected resource until the context ends or the stream breaks.
type Source interface {
	Get(ctx context.Context, namespace, name string) (*v1alpha1.Stream, error)
	List(ctx context.Context, namespace string, selector labels.Selector) ([]v1alpha1.Stream, error)
	Watch(ctx context.Context, namespace string, selector labels.Selector) (watch.Interface, error)
}
