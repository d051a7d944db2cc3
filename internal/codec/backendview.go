package codec

// BackendDescription is the backend's own description of one live topic, as
// reported by whatever admin protocol the deployment uses.
type BackendDescription struct {
	Name       string
	Partitions int32
	Replicas   int16
	Config     []BackendConfigEntry
}

// BackendConfigEntry is one config entry of a live topic. Default marks
// entries the backend filled in itself rather than anyone setting them.
type BackendConfigEntry struct {
	Name    string
	Value   string
	Default bool
}

// FromBackendView builds the entity implied by a live topic description,
// used for drift detection. Default-valued config entries are dropped: they
// are not operator-managed and must not be diffed against the desired
// state. The result carries no stream name and no access mode.
func FromBackendView(d *BackendDescription) *Entity {
	config := make(map[string]string)
	for _, entry := range d.Config {
		if entry.Default {
			continue
		}
		config[entry.Name] = entry.Value
	}
	return &Entity{
		TopicName:  d.Name,
		Partitions: d.Partitions,
		Replicas:   d.Replicas,
		Config:     config,
	}
}
