package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"streamop/pkg/apis/streamop/v1alpha1"
)

const maxTopicNameLength = 249

// reservedConfigPrefix guards the config keys the operator itself writes
// into persisted records. User-supplied entries may not use it.
const reservedConfigPrefix = "streamop.dev/"

// Decode validates a Stream resource and builds its canonical entity.
// Rejections are typed (*InvalidNameError, *InvalidSizingError,
// *InvalidConfigValueError) and all match ErrValidation.
func Decode(stream *v1alpha1.Stream) (*Entity, error) {
	topicName := stream.Spec.TopicName
	field := "spec.topicName"
	fallback := false
	if topicName == "" {
		topicName = stream.Name
		field = "metadata.name"
		fallback = true
	}
	if reason := validateTopicName(topicName); reason != "" {
		return nil, &InvalidNameError{Field: field, Fallback: fallback, Reason: reason}
	}

	if stream.Spec.Partitions < 1 {
		return nil, &InvalidSizingError{
			Field:  "spec.partitions",
			Value:  int64(stream.Spec.Partitions),
			Reason: "should be strictly greater than 0",
		}
	}
	if stream.Spec.Replicas < 1 || stream.Spec.Replicas > math.MaxInt16 {
		return nil, &InvalidSizingError{
			Field:  "spec.replicas",
			Value:  int64(stream.Spec.Replicas),
			Reason: "should be between 1 and 32767 inclusive",
		}
	}

	mode, err := ParseAccessMode(stream.Spec.Access.Type)
	if err != nil {
		return nil, err
	}

	config := make(map[string]string, len(stream.Spec.Config))
	for key, raw := range stream.Spec.Config {
		if strings.HasPrefix(key, reservedConfigPrefix) {
			return nil, &InvalidConfigValueError{
				Key:    key,
				Reason: fmt.Sprintf("uses the key prefix %q, which is reserved for the operator", reservedConfigPrefix),
			}
		}
		value, err := configValueString(key, raw.Raw)
		if err != nil {
			return nil, err
		}
		config[key] = value
	}

	return &Entity{
		StreamName: stream.Name,
		TopicName:  topicName,
		Partitions: stream.Spec.Partitions,
		Replicas:   int16(stream.Spec.Replicas),
		Config:     config,
		Access:     mode,
		ReadOnly:   stream.Spec.Access.ReadOnly,
	}, nil
}

// validateTopicName checks a name against the backend's topic name grammar.
// Returns an empty string when the name is legal.
func validateTopicName(name string) string {
	if name == "" {
		return "topic name cannot be empty"
	}
	if name == "." || name == ".." {
		return `topic name cannot be "." or ".."`
	}
	if len(name) > maxTopicNameLength {
		return fmt.Sprintf("topic name cannot be longer than %d characters", maxTopicNameLength)
	}
	for _, r := range name {
		if !isLegalTopicNameRune(r) {
			return "topic name contains a character other than ASCII alphanumerics, '.', '_' and '-'"
		}
	}
	return ""
}

func isLegalTopicNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}

// configValueString stringifies one spec.config value. Only JSON scalars are
// accepted; null and structured values are rejected with the offending key.
// Numbers keep their literal form, so "60000" and 60000 both come out as
// the string "60000".
func configValueString(key string, raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nullConfigValue(key)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return "", &InvalidConfigValueError{
			Key:    key,
			Reason: fmt.Sprintf("holds malformed JSON: %v", err),
		}
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "", nullConfigValue(key)
	case []any:
		return "", typedConfigValue(key, "array")
	case map[string]any:
		return "", typedConfigValue(key, "object")
	default:
		return "", typedConfigValue(key, fmt.Sprintf("%T", value))
	}
}

func nullConfigValue(key string) *InvalidConfigValueError {
	return &InvalidConfigValueError{
		Key:    key,
		Reason: "must have a string, number or boolean value but the value was null",
	}
}

func typedConfigValue(key, kind string) *InvalidConfigValueError {
	return &InvalidConfigValueError{
		Key:    key,
		Reason: "must have a string, number or boolean value but was of type " + kind,
	}
}
