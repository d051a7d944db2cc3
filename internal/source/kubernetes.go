package source

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/watch"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"streamop/pkg/apis/streamop/v1alpha1"
)

// Kubernetes serves Streams straight from the cluster through a
// controller-runtime client with watch support.
type Kubernetes struct {
	client client.WithWatch
}

// NewKubernetes wraps an existing client. Used by tests with the fake
// client and by callers that already assembled one.
func NewKubernetes(c client.WithWatch) *Kubernetes {
	return &Kubernetes{client: c}
}

// NewKubernetesForConfig builds a client for the given REST config with the
// Stream types and the standard Kubernetes types registered.
func NewKubernetesForConfig(cfg *rest.Config) (*Kubernetes, error) {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))

	c, err := client.NewWithWatch(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create cluster client: %w", err)
	}
	return &Kubernetes{client: c}, nil
}

// Client exposes the underlying client for collaborators that operate on
// other resource kinds in the same cluster, such as the secret store.
func (k *Kubernetes) Client() client.Client {
	return k.client
}

func (k *Kubernetes) Get(ctx context.Context, namespace, name string) (*v1alpha1.Stream, error) {
	var stream v1alpha1.Stream
	err := k.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &stream)
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("stream %s/%s: %w", namespace, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stream %s/%s: %w", namespace, name, err)
	}
	return &stream, nil
}

func (k *Kubernetes) List(ctx context.Context, namespace string, selector labels.Selector) ([]v1alpha1.Stream, error) {
	var list v1alpha1.StreamList
	opts := []client.ListOption{client.InNamespace(namespace)}
	if selector != nil {
		opts = append(opts, client.MatchingLabelsSelector{Selector: selector})
	}
	if err := k.client.List(ctx, &list, opts...); err != nil {
		return nil, fmt.Errorf("list streams in %s: %w", namespace, err)
	}
	return list.Items, nil
}

func (k *Kubernetes) Watch(ctx context.Context, namespace string, selector labels.Selector) (watch.Interface, error) {
	var list v1alpha1.StreamList
	opts := []client.ListOption{client.InNamespace(namespace)}
	if selector != nil {
		opts = append(opts, client.MatchingLabelsSelector{Selector: selector})
	}
	w, err := k.client.Watch(ctx, &list, opts...)
	if err != nil {
		return nil, fmt.Errorf("watch streams in %s: %w", namespace, err)
	}
	return w, nil
}

// SyncStatus updates a Stream's status subresource with conflict retry: the
// resource is refetched and mutated again on every conflict, so a concurrent
// spec edit never makes the status write fail permanently. An absent stream
// is not an error; there is nothing left to report status on.
func (k *Kubernetes) SyncStatus(ctx context.Context, namespace, name string, mutate func(*v1alpha1.Stream)) error {
	return retry.OnError(retry.DefaultRetry, apierrors.IsConflict, func() error {
		var stream v1alpha1.Stream
		err := k.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &stream)
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		mutate(&stream)
		return k.client.Status().Update(ctx, &stream)
	})
}
