package codec

import (
	"encoding/json"
	"strings"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"streamop/pkg/apis/streamop/v1alpha1"
)

const (
	// ManagedByLabelKey marks objects written by the operator.
	ManagedByLabelKey   = "app.kubernetes.io/managed-by"
	ManagedByLabelValue = "streamop"
	// StreamLabelKey carries the owning stream's name on dependent objects.
	StreamLabelKey = "streamop.dev/stream"
)

// ManagedLabels returns the labels the operator stamps on objects it owns.
func ManagedLabels(streamName string) map[string]string {
	return map[string]string{
		ManagedByLabelKey: ManagedByLabelValue,
		StreamLabelKey:    streamName,
	}
}

// Encode renders an entity back into a Stream resource. Operator-managed
// fields (topic name, sizing, config, access) are written from the entity;
// caller-owned metadata on the existing resource, when one is given, is
// carried over verbatim: labels are merged with the caller's entries
// winning, annotations and owner references are kept as they are. Without
// an existing resource a minimal metadata block is synthesized.
func Encode(e *Entity, existing *v1alpha1.Stream) *v1alpha1.Stream {
	out := &v1alpha1.Stream{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       "Stream",
		},
	}
	out.Name = kubeName(e)

	labels := map[string]string{ManagedByLabelKey: ManagedByLabelValue}
	if existing != nil {
		out.Namespace = existing.Namespace
		for k, v := range existing.Labels {
			labels[k] = v
		}
		if existing.Annotations != nil {
			annotations := make(map[string]string, len(existing.Annotations))
			for k, v := range existing.Annotations {
				annotations[k] = v
			}
			out.Annotations = annotations
		}
		if len(existing.OwnerReferences) > 0 {
			refs := make([]metav1.OwnerReference, len(existing.OwnerReferences))
			copy(refs, existing.OwnerReferences)
			out.OwnerReferences = refs
		}
	}
	out.Labels = labels

	config := make(map[string]apiextensionsv1.JSON, len(e.Config))
	for k, v := range e.Config {
		config[k] = jsonScalar(v)
	}
	out.Spec = v1alpha1.StreamSpec{
		TopicName:  e.TopicName,
		Partitions: e.Partitions,
		Replicas:   int32(e.Replicas),
		Config:     config,
	}
	if e.Access != "" {
		out.Spec.Access = v1alpha1.AccessSpec{
			Type:     string(e.Access),
			ReadOnly: e.ReadOnly,
		}
	}
	return out
}

// kubeName picks the resource name for an encoded entity. Entities built
// from a live backend view have no stream name, so the topic name is
// mangled into a legal resource name instead.
func kubeName(e *Entity) string {
	if e.StreamName != "" {
		return e.StreamName
	}
	return strings.ReplaceAll(strings.ToLower(e.TopicName), "_", "-")
}

func jsonScalar(s string) apiextensionsv1.JSON {
	raw, _ := json.Marshal(s)
	return apiextensionsv1.JSON{Raw: raw}
}
