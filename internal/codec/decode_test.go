package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"streamop/pkg/apis/streamop/v1alpha1"
)

func jsonValue(raw string) apiextensionsv1.JSON {
	return apiextensionsv1.JSON{Raw: []byte(raw)}
}

func testStream(name string, mutate func(*v1alpha1.Stream)) *v1alpha1.Stream {
	s := &v1alpha1.Stream{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: v1alpha1.StreamSpec{
			Partitions: 3,
			Replicas:   2,
			Access:     v1alpha1.AccessSpec{Type: "scram-sha-512"},
		},
	}
	if mutate != nil {
		mutate(s)
	}
	return s
}

func TestDecode(t *testing.T) {
	stream := testStream("orders", func(s *v1alpha1.Stream) {
		s.Spec.Config = map[string]apiextensionsv1.JSON{
			"retention.ms": jsonValue(`"60000"`),
		}
	})

	entity, err := Decode(stream)
	require.NoError(t, err)

	assert.Equal(t, "orders", entity.StreamName)
	assert.Equal(t, "orders", entity.TopicName)
	assert.Equal(t, int32(3), entity.Partitions)
	assert.Equal(t, int16(2), entity.Replicas)
	assert.Equal(t, map[string]string{"retention.ms": "60000"}, entity.Config)
	assert.Equal(t, AccessScramSHA512, entity.Access)
	assert.False(t, entity.ReadOnly)
}

func TestDecode_TopicNameOverride(t *testing.T) {
	stream := testStream("orders", func(s *v1alpha1.Stream) {
		s.Spec.TopicName = "orders.v2"
	})

	entity, err := Decode(stream)
	require.NoError(t, err)
	assert.Equal(t, "orders", entity.StreamName)
	assert.Equal(t, "orders.v2", entity.TopicName)
}

func TestDecode_ConfigValueForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "string", raw: `"60000"`, want: "60000"},
		{name: "integer", raw: `60000`, want: "60000"},
		{name: "float", raw: `0.5`, want: "0.5"},
		{name: "bool true", raw: `true`, want: "true"},
		{name: "bool false", raw: `false`, want: "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := testStream("orders", func(s *v1alpha1.Stream) {
				s.Spec.Config = map[string]apiextensionsv1.JSON{"k": jsonValue(tt.raw)}
			})
			entity, err := Decode(stream)
			require.NoError(t, err)
			assert.Equal(t, tt.want, entity.Config["k"])
		})
	}
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*v1alpha1.Stream)
		target  any
		message string
	}{
		{
			name:    "zero partitions",
			mutate:  func(s *v1alpha1.Stream) { s.Spec.Partitions = 0 },
			target:  &InvalidSizingError{},
			message: "spec.partitions should be strictly greater than 0",
		},
		{
			name:    "zero replicas",
			mutate:  func(s *v1alpha1.Stream) { s.Spec.Replicas = 0 },
			target:  &InvalidSizingError{},
			message: "spec.replicas should be between 1 and 32767 inclusive",
		},
		{
			name:    "replicas above int16",
			mutate:  func(s *v1alpha1.Stream) { s.Spec.Replicas = 40000 },
			target:  &InvalidSizingError{},
			message: "spec.replicas should be between 1 and 32767 inclusive",
		},
		{
			name:    "illegal topic name character",
			mutate:  func(s *v1alpha1.Stream) { s.Spec.TopicName = "orders/prod" },
			target:  &InvalidNameError{},
			message: "spec.topicName is invalid as a topic name",
		},
		{
			name:    "topic name too long",
			mutate:  func(s *v1alpha1.Stream) { s.Spec.TopicName = strings.Repeat("a", 250) },
			target:  &InvalidNameError{},
			message: "longer than 249 characters",
		},
		{
			name:    "topic name dot",
			mutate:  func(s *v1alpha1.Stream) { s.Spec.TopicName = "." },
			target:  &InvalidNameError{},
			message: `cannot be "." or ".."`,
		},
		{
			name:   "resource name used and illegal",
			mutate: func(s *v1alpha1.Stream) { s.Name = "orders prod" },
			target: &InvalidNameError{},
			// The fallback wording points at metadata.name.
			message: "spec.topicName is absent and metadata.name is invalid",
		},
		{
			name: "null config value",
			mutate: func(s *v1alpha1.Stream) {
				s.Spec.Config = map[string]apiextensionsv1.JSON{"retention.ms": jsonValue(`null`)}
			},
			target:  &InvalidConfigValueError{},
			message: "must have a string, number or boolean value but the value was null",
		},
		{
			name: "object config value",
			mutate: func(s *v1alpha1.Stream) {
				s.Spec.Config = map[string]apiextensionsv1.JSON{"retention.ms": jsonValue(`{"ms":60000}`)}
			},
			target:  &InvalidConfigValueError{},
			message: "but was of type object",
		},
		{
			name: "array config value",
			mutate: func(s *v1alpha1.Stream) {
				s.Spec.Config = map[string]apiextensionsv1.JSON{"retention.ms": jsonValue(`[1,2]`)}
			},
			target:  &InvalidConfigValueError{},
			message: "but was of type array",
		},
		{
			name: "reserved config key",
			mutate: func(s *v1alpha1.Stream) {
				s.Spec.Config = map[string]apiextensionsv1.JSON{"streamop.dev/access": jsonValue(`"tls"`)}
			},
			target:  &InvalidConfigValueError{},
			message: "reserved for the operator",
		},
		{
			name:    "unknown access type",
			mutate:  func(s *v1alpha1.Stream) { s.Spec.Access.Type = "oauth" },
			message: `unsupported access type "oauth"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(testStream("orders", tt.mutate))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.message)

			switch tt.target.(type) {
			case *InvalidSizingError:
				var sizingErr *InvalidSizingError
				require.True(t, errors.As(err, &sizingErr))
				assert.NotEmpty(t, sizingErr.Field)
			case *InvalidNameError:
				var nameErr *InvalidNameError
				require.True(t, errors.As(err, &nameErr))
				assert.NotEmpty(t, nameErr.Field)
			case *InvalidConfigValueError:
				var configErr *InvalidConfigValueError
				require.True(t, errors.As(err, &configErr))
				assert.NotEmpty(t, configErr.Key)
			}
		})
	}
}

func TestDecode_LegalTopicNames(t *testing.T) {
	for _, name := range []string{"orders", "orders.v2", "ORDERS_2024", "a", strings.Repeat("x", 249)} {
		stream := testStream("placeholder", func(s *v1alpha1.Stream) { s.Spec.TopicName = name })
		entity, err := Decode(stream)
		require.NoError(t, err, "topic name %q should be legal", name)
		assert.Equal(t, name, entity.TopicName)
	}
}
