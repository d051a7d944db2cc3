package codec

import (
	"encoding/json"
	"fmt"
)

// Reserved config keys the operator folds into persisted records so the
// access mode survives the round trip. Decode rejects them in user config.
const (
	recordAccessKey   = reservedConfigPrefix + "access"
	recordReadOnlyKey = reservedConfigPrefix + "read-only"
)

// Record is the persisted form of an entity, the one format the record
// store writes. The field set is fixed; readers ignore unknown fields.
type Record struct {
	MapName    string            `json:"map-name"`
	TopicName  string            `json:"topic-name"`
	Partitions int32             `json:"partitions"`
	Replicas   int16             `json:"replicas"`
	Config     map[string]string `json:"config"`
}

// MarshalRecord encodes a record as UTF-8 JSON. The config object is always
// present, even when empty.
func MarshalRecord(r *Record) ([]byte, error) {
	out := *r
	if out.Config == nil {
		out.Config = map[string]string{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("marshal stream record %q: %w", r.MapName, err)
	}
	return data, nil
}

// UnmarshalRecord decodes persisted record bytes. Unknown top-level fields
// are ignored, not an error.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal stream record: %w", err)
	}
	if r.Config == nil {
		r.Config = map[string]string{}
	}
	return &r, nil
}

// Record builds the persisted form of the entity. The access mode rides in
// the config object under reserved keys so EntityFromRecord can restore it.
func (e *Entity) Record() *Record {
	config := make(map[string]string, len(e.Config)+2)
	for k, v := range e.Config {
		config[k] = v
	}
	if e.Access != "" {
		config[recordAccessKey] = string(e.Access)
	}
	if e.ReadOnly {
		config[recordReadOnlyKey] = "true"
	}
	return &Record{
		MapName:    e.StreamName,
		TopicName:  e.TopicName,
		Partitions: e.Partitions,
		Replicas:   e.Replicas,
		Config:     config,
	}
}

// EntityFromRecord restores an entity from its persisted form, lifting the
// reserved config keys back out of the config object.
func EntityFromRecord(r *Record) *Entity {
	e := &Entity{
		StreamName: r.MapName,
		TopicName:  r.TopicName,
		Partitions: r.Partitions,
		Replicas:   r.Replicas,
		Config:     make(map[string]string, len(r.Config)),
	}
	for k, v := range r.Config {
		switch k {
		case recordAccessKey:
			if _, ok := accessProfiles[AccessMode(v)]; ok {
				e.Access = AccessMode(v)
			}
		case recordReadOnlyKey:
			e.ReadOnly = v == "true"
		default:
			e.Config[k] = v
		}
	}
	return e
}
