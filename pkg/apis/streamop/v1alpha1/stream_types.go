package v1alpha1

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// StreamSpec defines the desired state of Stream
type StreamSpec struct {
	// TopicName overrides the name of the backing topic. When omitted the
	// topic is named after the Stream resource itself. Topic names follow
	// the backend's grammar: 1-249 characters from [a-zA-Z0-9._-].
	// +kubebuilder:validation:MaxLength=249
	// +kubebuilder:validation:Pattern=`^[a-zA-Z0-9._-]+$`
	// +kubebuilder:validation:XValidation:rule="self == oldSelf",message="topicName is immutable"
	TopicName string `json:"topicName,omitempty" yaml:"topicName,omitempty"`

	// Partitions is the partition count of the backing topic.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Minimum=1
	Partitions int32 `json:"partitions" yaml:"partitions"`

	// Replicas is the replication factor of the backing topic. The backend
	// stores it as a 16-bit value, hence the 32767 ceiling.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=32767
	Replicas int32 `json:"replicas" yaml:"replicas"`

	// Config holds per-topic configuration entries. Values must be scalar
	// (string, number or boolean); structured and null values are rejected.
	// +kubebuilder:pruning:PreserveUnknownFields
	Config map[string]apiextensionsv1.JSON `json:"config,omitempty" yaml:"config,omitempty"`

	// Access declares how clients of this stream authenticate.
	// +kubebuilder:validation:Required
	Access AccessSpec `json:"access" yaml:"access"`
}

// AccessSpec selects the authentication mode for a stream's principal and
// the shape of the ACL rules derived for it.
type AccessSpec struct {
	// Type is the authentication mode of the stream's principal.
	// Supported values: "tls" for mutual TLS, "scram-sha-512" for SCRAM.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Enum=tls;scram-sha-512
	Type string `json:"type" yaml:"type"`

	// ReadOnly restricts the derived ACL rules to consuming: the principal
	// may read and describe the topic but not produce to it.
	// +kubebuilder:default=false
	ReadOnly bool `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// StreamStatus defines the observed state of Stream
type StreamStatus struct {
	// ObservedGeneration is the generation most recently reconciled.
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`

	// TopicName is the resolved name of the backing topic.
	TopicName string `json:"topicName,omitempty" yaml:"topicName,omitempty"`

	// Principal is the authenticated identity the backend sees for this
	// stream's clients, in the form matching the access type.
	Principal string `json:"principal,omitempty" yaml:"principal,omitempty"`

	// SecretName is the name of the Secret holding this stream's key material.
	SecretName string `json:"secretName,omitempty" yaml:"secretName,omitempty"`

	// Conditions represent the latest available observations of the Stream's current state
	Conditions []metav1.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=strm
// +kubebuilder:printcolumn:name="Topic",type="string",JSONPath=".status.topicName"
// +kubebuilder:printcolumn:name="Partitions",type="integer",JSONPath=".spec.partitions"
// +kubebuilder:printcolumn:name="Replicas",type="integer",JSONPath=".spec.replicas"
// +kubebuilder:printcolumn:name="Access",type="string",JSONPath=".spec.access.type"
// +kubebuilder:printcolumn:name="Ready",type="string",JSONPath=`.status.conditions[?(@.type=="Ready")].status`
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Stream is the Schema for the streams API
type Stream struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   StreamSpec   `json:"spec,omitempty"`
	Status StreamStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// StreamList contains a list of Stream
type StreamList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Stream `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Stream{}, &StreamList{})
}
