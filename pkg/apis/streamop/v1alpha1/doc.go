// Package v1alpha1 contains API Schema definitions for the streamop v1alpha1 API group.
//
// This package defines the Kubernetes Custom Resource Definitions (CRDs) for
// streamop. The v1alpha1 API version represents the initial alpha release of
// the streamop Kubernetes API and is subject to change.
//
// # API Group: streamop.dev/v1alpha1
//
// ## Stream
//
// Stream declares one messaging stream: the backing topic (name, partition
// count, replication factor, per-topic configuration) together with the
// access credentials its clients use. The operator reconciles every Stream
// against the cluster's credential, ACL, secret and record stores.
//
// Example:
//
//	apiVersion: streamop.dev/v1alpha1
//	kind: Stream
//	metadata:
//	  name: orders
//	  namespace: default
//	  labels:
//	    streamop.dev/cluster: main
//	spec:
//	  partitions: 3
//	  replicas: 2
//	  config:
//	    retention.ms: "60000"
//	  access:
//	    type: scram-sha-512
//
// +kubebuilder:object:generate=true
// +groupName=streamop.dev
package v1alpha1
